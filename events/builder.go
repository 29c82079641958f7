package events

// Builder assembles an Event. It is a value type, so every setter works on a
// copy and a Builder can be reused as a template without aliasing.
type Builder struct {
	e Event
}

// New starts a Builder for an event of type t with every other field zero.
func New(t EventType) Builder {
	return Builder{e: Event{EventType: t}}
}

func (b Builder) PlayerNum(n int) Builder {
	b.e.PlayerNum = n
	return b
}

func (b Builder) TargetController(target string) Builder {
	b.e.TargetController = target
	return b
}

func (b Builder) ControllerType(c ControllerType) Builder {
	b.e.ControllerType = c
	return b
}

// Position sets both coordinates, narrowing them to single precision.
// Coordinates outside the float32 range saturate and NaN becomes 0.
func (b Builder) Position(x, y float64) Builder {
	b.e.PosX = narrow(x)
	b.e.PosY = narrow(y)
	return b
}

func (b Builder) Build() Event {
	return b.e
}
