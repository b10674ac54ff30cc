package device

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash"
	"github.com/pkg/errors"
	"github.com/r3labs/diff"
)

// Snapshot is a typed, point-in-time copy of all device attributes
type Snapshot struct {
	UID           string   `json:"uid" diff:"uid"`
	Name          string   `json:"name" diff:"name"`
	Vendor        string   `json:"vendor" diff:"vendor"`
	Type          Type     `json:"type" diff:"type"`
	Status        Status   `json:"status" diff:"status"`
	Parent        string   `json:"parent,omitempty" diff:"parent"`
	Syspath       string   `json:"syspath,omitempty" diff:"syspath"`
	ConnectTime   uint64   `json:"conntime" diff:"conntime"`
	AuthorizeTime uint64   `json:"authtime" diff:"authtime"`
	Stored        bool     `json:"stored" diff:"stored"`
	Policy        Policy   `json:"policy" diff:"policy"`
	KeyState      KeyState `json:"key" diff:"key"`
	StoreTime     uint64   `json:"storetime" diff:"storetime"`
	Label         string   `json:"label,omitempty" diff:"label"`
	HasLabel      bool     `json:"-" diff:"has_label"`
	ObjectPath    string   `json:"object_path" diff:"-"`
}

// Snapshot captures the cached state of the proxy at once
func (p *Proxy) Snapshot() Snapshot {
	props := p.object.Properties()

	s := Snapshot{
		UID:        p.uid,
		ObjectPath: p.ObjectPath(),
	}

	s.Name = p.stringFrom(props, AttrName)
	s.Vendor = p.stringFrom(props, AttrVendor)
	s.Parent = p.stringFrom(props, AttrParent)
	s.Syspath = p.stringFrom(props, AttrSyspath)
	s.Type = Type(p.enumFrom(props, AttrType))
	s.Status = Status(p.enumFrom(props, AttrStatus))
	s.Policy = Policy(p.enumFrom(props, AttrPolicy))
	s.KeyState = KeyState(p.enumFrom(props, AttrKeyState))
	s.ConnectTime = p.uint64From(props, AttrConnectTime)
	s.AuthorizeTime = p.uint64From(props, AttrAuthorizeTime)
	s.StoreTime = p.uint64From(props, AttrStoreTime)
	s.Stored = p.boolFrom(props, AttrStored)

	label, ok, err := p.schema.DecodeNullableString(props, AttrLabel)
	if err != nil {
		p.reportDecodeError(err)
	}

	s.Label, s.HasLabel = label, ok

	return s
}

func (p *Proxy) stringFrom(g Getter, attr Attribute) string {
	v, err := p.schema.DecodeString(g, attr)
	if err != nil {
		p.reportDecodeError(err)
	}

	return v
}

func (p *Proxy) enumFrom(g Getter, attr Attribute) int64 {
	v, err := p.schema.DecodeEnum(g, attr)
	if err != nil {
		p.reportDecodeError(err)
	}

	return v
}

func (p *Proxy) uint64From(g Getter, attr Attribute) uint64 {
	v, err := p.schema.DecodeUint64(g, attr)
	if err != nil {
		p.reportDecodeError(err)
	}

	return v
}

func (p *Proxy) boolFrom(g Getter, attr Attribute) bool {
	v, err := p.schema.DecodeBool(g, attr)
	if err != nil {
		p.reportDecodeError(err)
	}

	return v
}

// Fingerprint is a stable hash over all attributes, used to tell
// whether anything changed between two snapshots
func (s Snapshot) Fingerprint() uint64 {
	var b strings.Builder

	fields := []string{
		s.UID,
		s.Name,
		s.Vendor,
		s.Type.String(),
		s.Status.String(),
		s.Parent,
		s.Syspath,
		strconv.FormatUint(s.ConnectTime, 10),
		strconv.FormatUint(s.AuthorizeTime, 10),
		strconv.FormatBool(s.Stored),
		s.Policy.String(),
		s.KeyState.String(),
		strconv.FormatUint(s.StoreTime, 10),
		strconv.FormatBool(s.HasLabel),
		s.Label,
	}

	for _, f := range fields {
		// length prefix keeps field boundaries unambiguous
		b.WriteString(strconv.Itoa(len(f)))
		b.WriteByte(':')
		b.WriteString(f)
	}

	return xxhash.Sum64([]byte(b.String()))
}

// Change is one attribute difference between two snapshots
type Change struct {
	Attribute string      `json:"attribute"`
	From      interface{} `json:"from"`
	To        interface{} `json:"to"`
}

// Diff lists the attributes that differ between two snapshots of the same device
func Diff(before, after Snapshot) ([]Change, error) {
	if before.Fingerprint() == after.Fingerprint() {
		return nil, nil
	}

	changelog, err := diff.Diff(before, after)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compare snapshots")
	}

	changes := make([]Change, 0, len(changelog))
	for _, c := range changelog {
		changes = append(changes, Change{
			Attribute: strings.Join(c.Path, "."),
			From:      c.From,
			To:        c.To,
		})
	}

	return changes, nil
}
