package block

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Type tells how a descriptor's records are laid out in the stream.
type Type uint8

const (
	TypeBlock Type = iota
	TypeEvent
	TypeValue
)

func (t Type) String() string {
	switch t {
	case TypeBlock:
		return "block"
	case TypeEvent:
		return "event"
	case TypeValue:
		return "value"
	default:
		return "type(" + strconv.Itoa(int(t)) + ")"
	}
}

// Status is a bit set deciding whether a block and its children are timed.
type Status uint8

const (
	Off Status = 0
	On  Status = 1 << 0

	// forceOnFlag times a block even when its parent forbids children.
	forceOnFlag Status = 1 << 1

	// offRecursiveFlag forbids timing the children of a block.
	offRecursiveFlag Status = 1 << 2

	ForceOn                = On | forceOnFlag
	OffRecursive           = offRecursiveFlag
	OnWithoutChildren      = On | offRecursiveFlag
	ForceOnWithoutChildren = ForceOn | offRecursiveFlag
)

// IsOn reports whether the block itself may be timed.
func (s Status) IsOn() bool {
	return s&On != 0
}

// IsForced reports whether the block is timed regardless of its parent.
func (s Status) IsForced() bool {
	return s&ForceOn == ForceOn
}

// IsRecursiveOff reports whether the children of the block are not timed.
func (s Status) IsRecursiveOff() bool {
	return s&offRecursiveFlag != 0
}

var statusNames = map[Status]string{
	Off:                    "off",
	On:                     "on",
	ForceOn:                "force-on",
	OffRecursive:           "off-recursive",
	OnWithoutChildren:      "on-without-children",
	ForceOnWithoutChildren: "force-on-without-children",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "status(" + strconv.Itoa(int(s)) + ")"
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// ParseStatus parses a status name as printed by Status.String, or its
// numeric value.
func ParseStatus(s string) (Status, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for st, n := range statusNames {
		if n == name {
			return st, nil
		}
	}
	if v, err := strconv.ParseUint(name, 10, 8); err == nil && Status(v).Valid() {
		return Status(v), nil
	}

	return Off, errors.Wrapf(ErrUnknownStatus, "%q", s)
}

// Color is an ARGB color hint for viewers.
type Color uint32

const (
	ColorDefault Color = 0
	ColorRed     Color = 0xfff44336
	ColorOrange  Color = 0xffff9800
	ColorYellow  Color = 0xffffeb3b
	ColorGreen   Color = 0xff4caf50
	ColorBlue    Color = 0xff2196f3
	ColorPurple  Color = 0xff9c27b0
	ColorGrey    Color = 0xff9e9e9e
)

// ValueType is the element type of an arbitrary value payload.
type ValueType uint8

const (
	ValueBool ValueType = iota
	ValueInt8
	ValueUint8
	ValueInt16
	ValueUint16
	ValueInt32
	ValueUint32
	ValueInt64
	ValueUint64
	ValueFloat32
	ValueFloat64
	ValueString
	ValueBytes
)

// Size returns the size of one element, or 1 for strings and byte slices.
func (v ValueType) Size() int {
	switch v {
	case ValueInt16, ValueUint16:
		return 2
	case ValueInt32, ValueUint32, ValueFloat32:
		return 4
	case ValueInt64, ValueUint64, ValueFloat64:
		return 8
	default:
		return 1
	}
}

func (v ValueType) String() string {
	names := [...]string{
		"bool", "int8", "uint8", "int16", "uint16", "int32", "uint32",
		"int64", "uint64", "float32", "float64", "string", "bytes",
	}
	if int(v) < len(names) {
		return names[v]
	}
	return "value(" + strconv.Itoa(int(v)) + ")"
}
