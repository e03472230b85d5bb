package scheduler

// Controller is the externally facing control surface over the
// scheduler. It carries no logic of its own; the HTTP layer and
// operators talk to the engine only through it.
type Controller struct {
	sched *Scheduler
}

func NewController(sched *Scheduler) *Controller {
	return &Controller{sched: sched}
}

func (c *Controller) Start() State   { return c.sched.Start() }
func (c *Controller) Stop() State    { return c.sched.Stop() }
func (c *Controller) Restart() State { return c.sched.Restart() }
func (c *Controller) Status() State  { return c.sched.Status() }
