package block

import (
	"sync/atomic"
)

// Descriptor is the static metadata shared by every instance of a call
// site's block. Everything but the status is immutable.
type Descriptor struct {
	id     uint32
	name   string
	file   string
	line   int32
	typ    Type
	color  Color
	status atomic.Uint32
}

func (d *Descriptor) ID() uint32 {
	return d.id
}

func (d *Descriptor) Name() string {
	return d.name
}

func (d *Descriptor) File() string {
	return d.file
}

func (d *Descriptor) Line() int32 {
	return d.line
}

func (d *Descriptor) Type() Type {
	return d.typ
}

func (d *Descriptor) Color() Color {
	return d.color
}

func (d *Descriptor) Status() Status {
	return Status(d.status.Load())
}
