package api

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// Limits bound the user-provided payload values.
type Limits struct {
	Nickname int
	Chat     int
	Uri      int
	WorldId  int
	Position float64
}

var DefaultLimits = Limits{Nickname: 32, Chat: 512, Uri: 1024, WorldId: 128, Position: 1e6}

// Codec decodes client messages and encodes host messages.
// It is safe for concurrent use.
type Codec struct {
	limits   Limits
	validate *validator.Validate
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic("api: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements:  16,
		MaxNestedLevels:   4,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic("api: CBOR decoder initialization failed: " + err.Error())
	}
}

func NewCodec(limits Limits) *Codec {
	v := validator.New(validator.WithRequiredStructEnabled())
	c := &Codec{limits: limits, validate: v}
	_ = v.RegisterValidation("nick", c.isNickname)
	_ = v.RegisterValidation("chat", c.isChat)
	_ = v.RegisterValidation("urilen", c.isUriLen)
	_ = v.RegisterValidation("world", c.isWorldId)
	_ = v.RegisterValidation("coord", c.isCoord)
	return c
}

func (c *Codec) Limits() Limits { return c.limits }

// Decode parses one inbound frame into exactly one known client message.
// All failures wrap ErrMalformed.
func (c *Codec) Decode(data []byte, binary bool) (Msg, error) {
	if binary {
		return c.decodeBinary(data)
	}

	var in In
	if err := strictUnmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	factory, ok := requests[in.T]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownType, uint8(in.T))
	}
	msg := factory()
	if len(in.Payload) > 0 {
		if err := strictUnmarshal(in.Payload, msg); err != nil {
			return nil, fmt.Errorf("%w: %v: %v", ErrMalformed, in.T, err)
		}
	}
	if err := c.Validate(msg); err != nil {
		return nil, err
	}
	return deref(msg), nil
}

// Validate checks a message against its schema.
func (c *Codec) Validate(m Msg) error {
	if err := c.validate.Struct(m); err != nil {
		return fmt.Errorf("%w: %v: %v", ErrInvalid, m.Type(), err)
	}
	return nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data")
	}
	return nil
}

// deref turns factory pointers into plain values
// so handlers can type-switch on value types.
func deref(m Msg) Msg {
	if v := reflect.ValueOf(m); v.Kind() == reflect.Pointer {
		return v.Elem().Interface().(Msg)
	}
	return m
}

type locationFrame struct {
	_         struct{} `cbor:",toarray"`
	T         PT
	Transform Transform
}

type playerLocationFrame struct {
	_         struct{} `cbor:",toarray"`
	T         PT
	PlayerId  PlayerId
	Transform Transform
}

func (c *Codec) decodeBinary(data []byte) (Msg, error) {
	var f locationFrame
	if err := decMode.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: binary: %v", ErrMalformed, err)
	}
	if f.T != Location {
		return nil, fmt.Errorf("%w: binary %v", ErrUnknownType, uint8(f.T))
	}
	msg := LocationRequest{Transform: f.Transform}
	if err := c.Validate(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Encode serializes a host message.
// Player locations are sent as binary frames, everything else as JSON text frames.
func Encode(m Msg) (data []byte, binary bool, err error) {
	switch v := m.(type) {
	case PlayerLocationMessage:
		data, err = encMode.Marshal(playerLocationFrame{T: PlayerLocation, PlayerId: v.PlayerId, Transform: v.Transform})
		return data, true, err
	case *PlayerLocationMessage:
		return Encode(*v)
	}
	out := Out{T: m.Type()}
	if !isEmpty(m) {
		out.Payload = m
	}
	data, err = json.Marshal(out)
	return data, false, err
}

// EncodeRequest serializes a client message.
// Location updates are binary, the rest is JSON.
func EncodeRequest(m Msg, binary bool) ([]byte, error) {
	if loc, ok := m.(LocationRequest); ok && binary {
		return encMode.Marshal(locationFrame{T: Location, Transform: loc.Transform})
	}
	out := Out{T: m.Type()}
	if !isEmpty(m) {
		out.Payload = m
	}
	return json.Marshal(out)
}

// DecodeMessage parses a host frame, mostly for clients and tests.
func DecodeMessage(data []byte, binary bool, v any) (PT, error) {
	if binary {
		var f playerLocationFrame
		if err := decMode.Unmarshal(data, &f); err != nil {
			return 0, err
		}
		if p, ok := v.(*PlayerLocationMessage); ok {
			*p = PlayerLocationMessage{PlayerId: f.PlayerId, Transform: f.Transform}
		}
		return f.T, nil
	}
	var in In
	if err := json.Unmarshal(data, &in); err != nil {
		return 0, err
	}
	if v != nil && len(in.Payload) > 0 {
		if err := json.Unmarshal(in.Payload, v); err != nil {
			return in.T, err
		}
	}
	return in.T, nil
}

func isEmpty(m Msg) bool {
	v := reflect.ValueOf(m)
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	return v.Kind() == reflect.Struct && v.NumField() == 0
}

func (c *Codec) isNickname(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if n := utf8.RuneCountInString(s); n == 0 || n > c.limits.Nickname {
		return false
	}
	if strings.TrimSpace(s) == "" {
		return false
	}
	return !strings.ContainsFunc(s, unicode.IsControl)
}

func (c *Codec) isChat(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return utf8.ValidString(s) && utf8.RuneCountInString(s) <= c.limits.Chat
}

func (c *Codec) isUriLen(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= c.limits.Uri
}

func (c *Codec) isWorldId(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || len(s) > c.limits.WorldId {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("-_.:", r)) {
			return false
		}
	}
	return true
}

func (c *Codec) isCoord(fl validator.FieldLevel) bool {
	f := fl.Field().Float()
	return !math.IsNaN(f) && !math.IsInf(f, 0) && math.Abs(f) <= c.limits.Position
}
