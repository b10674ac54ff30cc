package device

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Attribute is a typed device attribute
type Attribute uint8

// device attributes
const (
	AttrUID Attribute = iota
	AttrName
	AttrVendor
	AttrType
	AttrStatus
	AttrParent
	AttrSyspath
	AttrConnectTime
	AttrAuthorizeTime
	AttrStored
	AttrPolicy
	AttrKeyState
	AttrStoreTime
	AttrLabel

	attributeCount
)

var attributeNames = [attributeCount]string{
	"uid",
	"name",
	"vendor",
	"type",
	"status",
	"parent",
	"syspath",
	"conntime",
	"authtime",
	"stored",
	"policy",
	"key",
	"storetime",
	"label",
}

func (a Attribute) String() string {
	if a < attributeCount {
		return attributeNames[a]
	}

	return fmt.Sprintf("attribute(%d)", a)
}

// Kind is the semantic type of an attribute
type Kind uint8

// attribute kinds
const (
	KindString Kind = iota
	KindUint64
	KindBool
	KindEnum
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindUint64:
		return "uint64"
	case KindBool:
		return "bool"
	case KindEnum:
		return "enum"
	default:
		return "unknown kind"
	}
}

// Domain is the value set of an enum attribute, values are 0..len(Nicks)-1
type Domain struct {
	Name  string
	Nicks []string
}

// Contains tells whether v is a declared member of the domain
func (d *Domain) Contains(v int64) bool {
	return v >= 0 && v < int64(len(d.Nicks))
}

// Field describes how one attribute travels on the wire
type Field struct {
	Attr     Attribute
	Key      string
	Kind     Kind
	Nullable bool

	// Default is substituted when the key is absent or undecodable;
	// string for KindString, uint64 for KindUint64, bool for KindBool
	// and int64 for KindEnum
	Default interface{}
	Domain  *Domain
}

// Getter is anything holding raw wire values by key
type Getter interface {
	Get(key string) (interface{}, bool)
}

// Schema is the immutable attribute table shared by all proxies
type Schema struct {
	fields [attributeCount]Field
	byKey  map[string]Attribute
}

// NewSchema builds and validates the device attribute table
func NewSchema() (*Schema, error) {
	return newSchema(defaultFields())
}

// MustSchema is NewSchema that panics on an invalid table
func MustSchema() *Schema {
	s, err := NewSchema()
	if err != nil {
		panic(errors.Wrap(err, "MustSchema()"))
	}

	return s
}

// DefaultSchema is the process-wide attribute table
var DefaultSchema = MustSchema()

func defaultFields() []Field {
	return []Field{
		{Attr: AttrUID, Key: "Uid", Kind: KindString, Default: "unknown"},
		{Attr: AttrName, Key: "Name", Kind: KindString, Default: "unknown"},
		{Attr: AttrVendor, Key: "Vendor", Kind: KindString, Default: "unknown"},
		{Attr: AttrType, Key: "Type", Kind: KindEnum, Default: int64(TypePeripheral), Domain: &Domain{Name: "type", Nicks: typeNicks}},
		{Attr: AttrStatus, Key: "Status", Kind: KindEnum, Default: int64(StatusDisconnected), Domain: &Domain{Name: "status", Nicks: statusNicks}},
		{Attr: AttrParent, Key: "Parent", Kind: KindString, Default: ""},
		{Attr: AttrSyspath, Key: "SysfsPath", Kind: KindString, Default: ""},
		{Attr: AttrConnectTime, Key: "ConnectTime", Kind: KindUint64, Default: uint64(0)},
		{Attr: AttrAuthorizeTime, Key: "AuthorizeTime", Kind: KindUint64, Default: uint64(0)},
		{Attr: AttrStored, Key: "Stored", Kind: KindBool, Default: false},
		{Attr: AttrPolicy, Key: "Policy", Kind: KindEnum, Default: int64(PolicyDefault), Domain: &Domain{Name: "policy", Nicks: policyNicks}},
		{Attr: AttrKeyState, Key: "Key", Kind: KindEnum, Default: int64(KeyMissing), Domain: &Domain{Name: "key", Nicks: keyStateNicks}},
		{Attr: AttrStoreTime, Key: "StoreTime", Kind: KindUint64, Default: uint64(0)},
		{Attr: AttrLabel, Key: "Label", Kind: KindString, Nullable: true},
	}
}

func newSchema(fields []Field) (*Schema, error) {
	s := &Schema{byKey: make(map[string]Attribute, len(fields))}

	seen := make(map[Attribute]bool, len(fields))
	for _, f := range fields {
		if f.Attr >= attributeCount {
			return nil, errors.Wrapf(ErrInvalidSchema, "attribute %d is out of range", f.Attr)
		}

		if seen[f.Attr] {
			return nil, errors.Wrapf(ErrInvalidSchema, "attribute %s is declared twice", f.Attr)
		}

		if f.Key == "" {
			return nil, errors.Wrapf(ErrInvalidSchema, "attribute %s has no wire key", f.Attr)
		}

		if _, ok := s.byKey[f.Key]; ok {
			return nil, errors.Wrapf(ErrInvalidSchema, "wire key %s is used twice", f.Key)
		}

		if err := f.validate(); err != nil {
			return nil, err
		}

		seen[f.Attr] = true
		s.fields[f.Attr] = f
		s.byKey[f.Key] = f.Attr
	}

	if len(seen) != int(attributeCount) {
		return nil, errors.Wrapf(ErrInvalidSchema, "%d of %d attributes declared", len(seen), attributeCount)
	}

	return s, nil
}

func (f Field) validate() error {
	if f.Nullable && f.Default == nil {
		if f.Kind != KindString {
			return errors.Wrapf(ErrInvalidSchema, "attribute %s: only strings may be nullable", f.Attr)
		}

		return nil
	}

	var ok bool
	switch f.Kind {
	case KindString:
		_, ok = f.Default.(string)
	case KindUint64:
		_, ok = f.Default.(uint64)
	case KindBool:
		_, ok = f.Default.(bool)
	case KindEnum:
		var v int64
		if v, ok = f.Default.(int64); ok {
			if f.Domain == nil || len(f.Domain.Nicks) == 0 {
				return errors.Wrapf(ErrInvalidSchema, "attribute %s: enum without domain", f.Attr)
			}

			if !f.Domain.Contains(v) {
				return errors.Wrapf(ErrInvalidSchema, "attribute %s: default %d is outside of %s", f.Attr, v, f.Domain.Name)
			}
		}
	default:
		return errors.Wrapf(ErrInvalidSchema, "attribute %s: unknown kind %d", f.Attr, f.Kind)
	}

	if !ok {
		return errors.Wrapf(ErrInvalidSchema, "attribute %s: default %T does not match kind %s", f.Attr, f.Default, f.Kind)
	}

	return nil
}

// Field returns the declaration of an attribute
func (s *Schema) Field(attr Attribute) (Field, error) {
	if attr >= attributeCount {
		return Field{}, errors.Wrapf(ErrUnknownAttribute, "%d", attr)
	}

	return s.fields[attr], nil
}

// Lookup maps a wire key back to its attribute
func (s *Schema) Lookup(key string) (Attribute, bool) {
	a, ok := s.byKey[key]
	return a, ok
}

// Keys returns all wire keys in attribute order
func (s *Schema) Keys() []string {
	keys := make([]string, attributeCount)
	for i := range s.fields {
		keys[i] = s.fields[i].Key
	}

	return keys
}

func (s *Schema) raw(g Getter, attr Attribute, kind Kind) (Field, interface{}, bool) {
	if attr >= attributeCount {
		panic(errors.Wrapf(ErrUnknownAttribute, "%d", attr))
	}

	f := s.fields[attr]
	if f.Kind != kind {
		panic(errors.Errorf("attribute %s is %s, not %s", attr, f.Kind, kind))
	}

	v, ok := g.Get(f.Key)
	if ok && v == nil {
		ok = false
	}

	return f, v, ok
}

// DecodeString returns a string attribute, or its default when absent
func (s *Schema) DecodeString(g Getter, attr Attribute) (string, error) {
	f, v, ok := s.raw(g, attr, KindString)

	def, _ := f.Default.(string)
	if !ok {
		return def, nil
	}

	str, ok := v.(string)
	if !ok {
		return def, &PropertyDecodeError{Key: f.Key, Raw: v, Reason: "not a string"}
	}

	return str, nil
}

// DecodeNullableString returns a nullable string attribute and whether it is set
func (s *Schema) DecodeNullableString(g Getter, attr Attribute) (string, bool, error) {
	f, v, ok := s.raw(g, attr, KindString)
	if !ok {
		return "", false, nil
	}

	str, ok := v.(string)
	if !ok {
		return "", false, &PropertyDecodeError{Key: f.Key, Raw: v, Reason: "not a string"}
	}

	return str, true, nil
}

// DecodeBool returns a boolean attribute, or its default when absent
func (s *Schema) DecodeBool(g Getter, attr Attribute) (bool, error) {
	f, v, ok := s.raw(g, attr, KindBool)

	def, _ := f.Default.(bool)
	if !ok {
		return def, nil
	}

	b, ok := v.(bool)
	if !ok {
		return def, &PropertyDecodeError{Key: f.Key, Raw: v, Reason: "not a boolean"}
	}

	return b, nil
}

// DecodeUint64 returns an unsigned attribute, or its default when absent;
// any non-negative integer representation is accepted
func (s *Schema) DecodeUint64(g Getter, attr Attribute) (uint64, error) {
	f, v, ok := s.raw(g, attr, KindUint64)

	def, _ := f.Default.(uint64)
	if !ok {
		return def, nil
	}

	switch n := v.(type) {
	case uint64:
		return n, nil
	case uint32:
		return uint64(n), nil
	case uint16:
		return uint64(n), nil
	case uint8:
		return uint64(n), nil
	case uint:
		return uint64(n), nil
	}

	i, isInt := toInt64(v)
	if !isInt {
		return def, &PropertyDecodeError{Key: f.Key, Raw: v, Reason: "not an integer"}
	}

	if i < 0 {
		return def, &PropertyDecodeError{Key: f.Key, Raw: v, Reason: "negative value"}
	}

	return uint64(i), nil
}

// DecodeEnum returns an enum attribute as its integer value; values outside
// of the declared domain yield the default and a decode error
func (s *Schema) DecodeEnum(g Getter, attr Attribute) (int64, error) {
	f, v, ok := s.raw(g, attr, KindEnum)

	def, _ := f.Default.(int64)
	if !ok {
		return def, nil
	}

	i, isInt := toInt64(v)
	if !isInt {
		return def, &PropertyDecodeError{Key: f.Key, Raw: v, Reason: "not an integer"}
	}

	if !f.Domain.Contains(i) {
		return def, &PropertyDecodeError{Key: f.Key, Raw: v, Reason: fmt.Sprintf("outside of %s domain", f.Domain.Name)}
	}

	return i, nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case int:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}
