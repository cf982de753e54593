package protocol

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"

	"relaychat/internal/errors"
)

// ── Field numbers ────────────────────────────────────────────────────
//
// Messages are encoded as protobuf wire-format fields without a schema:
// the top level holds exactly one category field, the category body
// holds exactly one variant field, and the variant body holds the
// variant's own fields.

const (
	fieldUser   protowire.Number = 1
	fieldServer protowire.Number = 2
	fieldError  protowire.Number = 3
)

const (
	userAuth            protowire.Number = 1
	userLeave           protowire.Number = 2
	userRequestUserList protowire.Number = 3
	userText            protowire.Number = 4
	userVoice           protowire.Number = 5
)

const (
	serverAuth     protowire.Number = 1
	serverNotice   protowire.Number = 2
	serverRefer    protowire.Number = 3
	serverUserList protowire.Number = 4
)

// Variant bodies number their own fields from 1.
const (
	bodyFirst  protowire.Number = 1
	bodySecond protowire.Number = 2
)

// Encode serializes m.  The result never contains a CR byte, so it can
// be framed with a CR LF delimiter as is.
//
// Strings are sent as UTF-8: invalid byte sequences are replaced with
// U+FFFD (see Sanitize), so what Encode emits always decodes.  m must be
// complete; a Refer needs a non-nil Message.
func Encode(m Message) []byte {
	return stuff(marshal(m))
}

// Decode parses one encoded message.  Invalid input yields an error
// wrapping errors.ErrMalformedFrame.
func Decode(data []byte) (Message, error) {
	raw, err := unstuff(data)
	if err != nil {
		return nil, err
	}
	return unmarshal(raw)
}

// Sanitize returns s with every invalid UTF-8 sequence replaced by
// U+FFFD, which is the text a peer receives when s is encoded.
func Sanitize(s string) string {
	return strings.ToValidUTF8(s, string(utf8.RuneError))
}

// ── Marshal ──────────────────────────────────────────────────────────

func marshal(m Message) []byte {
	var b []byte
	switch m := m.(type) {
	case User:
		b = appendBytesField(b, fieldUser, marshalUser(m))
	case Server:
		b = appendBytesField(b, fieldServer, marshalServer(m))
	case Error:
		b = protowire.AppendTag(b, fieldError, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m))
	}
	return b
}

func marshalUser(m User) []byte {
	var body []byte
	switch m := m.(type) {
	case Auth:
		body = appendStringField(nil, bodyFirst, m.Nick)
		return appendBytesField(nil, userAuth, body)
	case Leave:
		if m.Message != nil {
			body = appendStringField(nil, bodyFirst, *m.Message)
		}
		return appendBytesField(nil, userLeave, body)
	case RequestUserList:
		return appendBytesField(nil, userRequestUserList, nil)
	case Text:
		body = appendStringField(nil, bodyFirst, m.Message)
		return appendBytesField(nil, userText, body)
	case Voice:
		body = appendBytesField(nil, bodyFirst, m.Stream)
		return appendBytesField(nil, userVoice, body)
	}
	return nil
}

func marshalServer(m Server) []byte {
	var body []byte
	switch m := m.(type) {
	case Challenge:
		return appendBytesField(nil, serverAuth, nil)
	case Notice:
		body = appendStringField(nil, bodyFirst, m.Message)
		return appendBytesField(nil, serverNotice, body)
	case Refer:
		body = appendStringField(nil, bodyFirst, m.User)
		if m.Message != nil {
			body = appendBytesField(body, bodySecond, marshalUser(m.Message))
		}
		return appendBytesField(nil, serverRefer, body)
	case UserList:
		for _, u := range m.Users {
			body = appendStringField(body, bodyFirst, u)
		}
		return appendBytesField(nil, serverUserList, body)
	}
	return nil
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	return appendBytesField(b, num, []byte(Sanitize(v)))
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// ── Unmarshal ────────────────────────────────────────────────────────

type field struct {
	num    protowire.Number
	typ    protowire.Type
	bytes  []byte
	varint uint64
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errors.ErrMalformedFrame, fmt.Sprintf(format, args...))
}

// parseFields splits b into its top-level fields.  Only varint and
// length-delimited fields are part of the protocol.
func parseFields(b []byte) ([]field, error) {
	var out []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformed("tag: %v", protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, malformed("field %d: %v", num, protowire.ParseError(n))
			}
			f.bytes = v
			b = b[n:]
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed("field %d: %v", num, protowire.ParseError(n))
			}
			f.varint = v
			b = b[n:]
		default:
			return nil, malformed("field %d: unsupported wire type %d", num, typ)
		}
		out = append(out, f)
	}
	return out, nil
}

// only parses b and requires it to hold exactly one field.
func only(b []byte, what string) (field, error) {
	fs, err := parseFields(b)
	if err != nil {
		return field{}, err
	}
	if len(fs) != 1 {
		return field{}, malformed("%s: want exactly one field, got %d", what, len(fs))
	}
	return fs[0], nil
}

// body parses a variant body.  Every field must be a bytes field whose
// number is listed in allowed, and none may repeat.
func body(b []byte, allowed ...protowire.Number) (map[protowire.Number][]byte, error) {
	fs, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	out := make(map[protowire.Number][]byte, len(fs))
	for _, f := range fs {
		if f.typ != protowire.BytesType || !contains(allowed, f.num) {
			return nil, malformed("unexpected field %d", f.num)
		}
		if _, dup := out[f.num]; dup {
			return nil, malformed("repeated field %d", f.num)
		}
		out[f.num] = f.bytes
	}
	return out, nil
}

func contains(nums []protowire.Number, n protowire.Number) bool {
	for _, x := range nums {
		if x == n {
			return true
		}
	}
	return false
}

func text(v []byte, what string) (string, error) {
	if !utf8.Valid(v) {
		return "", malformed("%s: invalid UTF-8", what)
	}
	return string(v), nil
}

// required fetches a mandatory string field from a parsed body.
func required(fs map[protowire.Number][]byte, num protowire.Number, what string) (string, error) {
	v, ok := fs[num]
	if !ok {
		return "", malformed("%s: missing", what)
	}
	return text(v, what)
}

func unmarshal(b []byte) (Message, error) {
	f, err := only(b, "message")
	if err != nil {
		return nil, err
	}
	switch f.num {
	case fieldUser:
		if f.typ != protowire.BytesType {
			return nil, malformed("user: wrong wire type")
		}
		return unmarshalUser(f.bytes)
	case fieldServer:
		if f.typ != protowire.BytesType {
			return nil, malformed("server: wrong wire type")
		}
		return unmarshalServer(f.bytes)
	case fieldError:
		if f.typ != protowire.VarintType {
			return nil, malformed("error: wrong wire type")
		}
		if f.varint != uint64(AlreadyConnected) && f.varint != uint64(NickNameInUse) {
			return nil, malformed("unknown error code %d", f.varint)
		}
		return Error(f.varint), nil
	}
	return nil, malformed("unknown category %d", f.num)
}

func unmarshalUser(b []byte) (User, error) {
	f, err := only(b, "user")
	if err != nil {
		return nil, err
	}
	if f.typ != protowire.BytesType {
		return nil, malformed("user variant %d: wrong wire type", f.num)
	}

	switch f.num {
	case userAuth:
		fs, err := body(f.bytes, bodyFirst)
		if err != nil {
			return nil, err
		}
		nick, err := required(fs, bodyFirst, "auth.nick")
		if err != nil {
			return nil, err
		}
		return Auth{Nick: nick}, nil

	case userLeave:
		fs, err := body(f.bytes, bodyFirst)
		if err != nil {
			return nil, err
		}
		v, ok := fs[bodyFirst]
		if !ok {
			return Leave{}, nil
		}
		msg, err := text(v, "leave.message")
		if err != nil {
			return nil, err
		}
		return Leave{Message: &msg}, nil

	case userRequestUserList:
		if _, err := body(f.bytes); err != nil {
			return nil, err
		}
		return RequestUserList{}, nil

	case userText:
		fs, err := body(f.bytes, bodyFirst)
		if err != nil {
			return nil, err
		}
		msg, err := required(fs, bodyFirst, "text.message")
		if err != nil {
			return nil, err
		}
		return Text{Message: msg}, nil

	case userVoice:
		fs, err := body(f.bytes, bodyFirst)
		if err != nil {
			return nil, err
		}
		v, ok := fs[bodyFirst]
		if !ok {
			return nil, malformed("voice.stream: missing")
		}
		var stream []byte
		if len(v) > 0 {
			stream = append([]byte(nil), v...)
		}
		return Voice{Stream: stream}, nil
	}
	return nil, malformed("unknown user variant %d", f.num)
}

func unmarshalServer(b []byte) (Server, error) {
	f, err := only(b, "server")
	if err != nil {
		return nil, err
	}
	if f.typ != protowire.BytesType {
		return nil, malformed("server variant %d: wrong wire type", f.num)
	}

	switch f.num {
	case serverAuth:
		if _, err := body(f.bytes); err != nil {
			return nil, err
		}
		return Challenge{}, nil

	case serverNotice:
		fs, err := body(f.bytes, bodyFirst)
		if err != nil {
			return nil, err
		}
		msg, err := required(fs, bodyFirst, "notice.message")
		if err != nil {
			return nil, err
		}
		return Notice{Message: msg}, nil

	case serverRefer:
		fs, err := body(f.bytes, bodyFirst, bodySecond)
		if err != nil {
			return nil, err
		}
		user, err := required(fs, bodyFirst, "refer.user")
		if err != nil {
			return nil, err
		}
		inner, ok := fs[bodySecond]
		if !ok {
			return nil, malformed("refer.message: missing")
		}
		um, err := unmarshalUser(inner)
		if err != nil {
			return nil, err
		}
		return Refer{User: user, Message: um}, nil

	case serverUserList:
		fs, err := parseFields(f.bytes)
		if err != nil {
			return nil, err
		}
		var users []string
		for _, uf := range fs {
			if uf.num != bodyFirst || uf.typ != protowire.BytesType {
				return nil, malformed("user_list: unexpected field %d", uf.num)
			}
			u, err := text(uf.bytes, "user_list.users")
			if err != nil {
				return nil, err
			}
			users = append(users, u)
		}
		return UserList{Users: users}, nil
	}
	return nil, malformed("unknown server variant %d", f.num)
}

// ── Byte stuffing ────────────────────────────────────────────────────
//
// The encoded form never contains CR: every CR becomes ESC 'r' and every
// ESC becomes ESC 'e'.  A CR LF in the stream is therefore always a
// frame delimiter.

const (
	escByte = 0x1B
	escCR   = 'r'
	escEsc  = 'e'
	cr      = '\r'
)

func stuff(b []byte) []byte {
	extra := 0
	for _, c := range b {
		if c == cr || c == escByte {
			extra++
		}
	}
	if extra == 0 {
		return b
	}
	out := make([]byte, 0, len(b)+extra)
	for _, c := range b {
		switch c {
		case cr:
			out = append(out, escByte, escCR)
		case escByte:
			out = append(out, escByte, escEsc)
		default:
			out = append(out, c)
		}
	}
	return out
}

func unstuff(b []byte) ([]byte, error) {
	i := indexSpecial(b)
	if i < 0 {
		return b, nil
	}
	out := make([]byte, 0, len(b))
	out = append(out, b[:i]...)
	for ; i < len(b); i++ {
		c := b[i]
		switch c {
		case cr:
			return nil, malformed("bare CR at offset %d", i)
		case escByte:
			if i+1 >= len(b) {
				return nil, malformed("dangling escape")
			}
			i++
			switch b[i] {
			case escCR:
				out = append(out, cr)
			case escEsc:
				out = append(out, escByte)
			default:
				return nil, malformed("bad escape 0x%02x", b[i])
			}
		default:
			out = append(out, c)
		}
	}
	return out, nil
}

func indexSpecial(b []byte) int {
	for i, c := range b {
		if c == cr || c == escByte {
			return i
		}
	}
	return -1
}
