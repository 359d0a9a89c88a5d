package coordinator

// State is the lifecycle position of one resource's mutation.
type State string

const (
	StateIdle           State = "idle"
	StatePredicting     State = "predicting"
	StateAwaitingServer State = "awaiting_server"
	StateConfirmed      State = "confirmed"
	StateRolledBack     State = "rolled_back"
)

// State returns the current state of resource.
func (c *Coordinator) State(resource string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.states[resource]; ok {
		return s
	}
	return StateIdle
}

func (c *Coordinator) setState(resource string, s State) {
	c.mu.Lock()
	if s == StateIdle {
		delete(c.states, resource)
	} else {
		c.states[resource] = s
	}
	c.mu.Unlock()

	if c.cfg.OnState != nil {
		c.cfg.OnState(resource, s)
	}
}
