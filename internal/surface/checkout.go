package surface

import (
	"strings"
	"sync"

	"cartsync/internal/model"
)

// Step kinds, in flow order.
const (
	StepBilling = "billing"
	StepReview  = "review"
	StepPayment = "payment"
)

const (
	submitLabel     = "Place Order"
	submittingLabel = "Processing..."
)

// Step is one enabled checkout step.
type Step struct {
	Kind  string `json:"kind"`
	Label string `json:"label"`
}

// StepView is a step with its progress state: "done", "current" or
// "upcoming".
type StepView struct {
	Step
	State string `json:"state"`
}

// Steps returns the enabled steps. Empty labels fall back to the step's
// default name.
func Steps(s model.CheckoutSettings) []Step {
	all := []struct {
		enabled bool
		step    Step
		def     string
	}{
		{s.EnableStep1, Step{Kind: StepBilling, Label: s.Step1Label}, "Billing & Shipping"},
		{s.EnableStep2, Step{Kind: StepReview, Label: s.Step2Label}, "Order Review"},
		{s.EnableStep3, Step{Kind: StepPayment, Label: s.Step3Label}, "Payment"},
	}
	var steps []Step
	for _, st := range all {
		if !st.enabled {
			continue
		}
		if st.step.Label == "" {
			st.step.Label = st.def
		}
		steps = append(steps, st.step)
	}
	return steps
}

// Checkout is the multi-step checkout inside the cart panel.
type Checkout struct {
	coord Coordinator
	sink  Sink

	mu         sync.Mutex
	active     bool
	steps      []Step
	current    int
	form       model.CheckoutForm
	submitting bool
	redirect   string
	message    string
	last       fields
}

// NewCheckout returns a hidden checkout.
func NewCheckout(c Coordinator, sink Sink) *Checkout {
	co := &Checkout{coord: c, sink: sink}
	co.last = co.render()
	return co
}

func (c *Checkout) render() fields {
	if !c.active {
		return fields{"active": false}
	}
	views := make([]StepView, len(c.steps))
	for i, st := range c.steps {
		state := "upcoming"
		switch {
		case i < c.current:
			state = "done"
		case i == c.current:
			state = "current"
		}
		views[i] = StepView{Step: st, State: state}
	}
	label := submitLabel
	if c.submitting {
		label = submittingLabel
	}
	last := len(c.steps) - 1
	return fields{
		"active":                    true,
		"steps":                     views,
		"current":                   c.current,
		"show_prev":                 c.current > 0,
		"show_next":                 c.current < last,
		"show_submit":               c.current == last,
		"submit_label":              label,
		"submit_disabled":           c.submitting,
		"ship_to_different_address": c.form.ShipToDifferentAddress,
		"message":                   c.message,
		"redirect":                  c.redirect,
	}
}

// publish emits what changed. Callers hold c.mu.
func (c *Checkout) publish() {
	next := c.render()
	changed := changedFields(c.last, next)
	c.last = next
	if len(changed) > 0 {
		c.sink.Emit(Diff{Surface: NameCheckout, Fields: changed})
	}
}

// Show opens the checkout at its first enabled step.
func (c *Checkout) Show() error {
	steps := Steps(c.coord.Settings().Checkout)
	if len(steps) == 0 {
		return model.NewValidationError("checkout", "Checkout is disabled")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return nil
	}
	c.active = true
	c.steps = steps
	c.current = 0
	c.message = ""
	c.redirect = ""
	c.publish()
	return nil
}

// Hide returns to the cart. Entered fields are kept.
func (c *Checkout) Hide() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	c.publish()
}

// Current returns the current step.
func (c *Checkout) Current() (Step, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return Step{}, false
	}
	return c.steps[c.current], true
}

// Form returns a copy of the entered fields.
func (c *Checkout) Form() model.CheckoutForm {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.form
}

// Next advances one step. Leaving the billing step validates the required
// fields and saves the address so shipping rates follow it.
func (c *Checkout) Next() error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return model.NewValidationError("checkout", "Checkout is not open")
	}
	if c.current >= len(c.steps)-1 {
		c.mu.Unlock()
		return nil
	}
	leaving := c.steps[c.current]
	form := c.form
	c.mu.Unlock()

	if leaving.Kind == StepBilling {
		if err := c.saveAddress(&form); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active && c.current < len(c.steps)-1 {
		c.current++
		c.message = ""
	}
	c.publish()
	return nil
}

func (c *Checkout) saveAddress(form *model.CheckoutForm) error {
	err := form.Validate()
	if err == nil {
		err = c.coord.SaveAddress(form)
	}
	if err != nil {
		c.mu.Lock()
		c.message = failureText(err, "Failed to save address")
		c.publish()
		c.mu.Unlock()
	}
	return err
}

// Prev goes back one step.
func (c *Checkout) Prev() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active && c.current > 0 {
		c.current--
		c.message = ""
		c.publish()
	}
}

// Goto jumps to step i. Jumping forward passes through Next so the billing
// step is still validated and saved.
func (c *Checkout) Goto(i int) error {
	c.mu.Lock()
	if !c.active || i < 0 || i >= len(c.steps) {
		c.mu.Unlock()
		return model.NewValidationError("step", "Invalid checkout step")
	}
	if i <= c.current {
		c.current = i
		c.message = ""
		c.publish()
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	for {
		c.mu.Lock()
		at := c.current
		c.mu.Unlock()
		if at >= i {
			return nil
		}
		if err := c.Next(); err != nil {
			return err
		}
	}
}

// SetFields stores entered checkout fields by their platform names, e.g.
// "billing_email", "shipping_city", "ship_to_different_address",
// "payment_method".
func (c *Checkout) SetFields(values map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, v := range values {
		if err := setField(&c.form, name, v); err != nil {
			return err
		}
	}
	c.publish()
	return nil
}

func setField(f *model.CheckoutForm, name, value string) error {
	value = strings.TrimSpace(value)
	switch name {
	case "ship_to_different_address":
		f.ShipToDifferentAddress = value == "1" || strings.EqualFold(value, "true") || value == "on"
		return nil
	case "payment_method":
		f.PaymentMethod = value
		return nil
	case "terms":
		f.Terms = value != "" && value != "0" && !strings.EqualFold(value, "false")
		return nil
	}

	prefix, field, ok := strings.Cut(name, "_")
	if !ok {
		return model.NewValidationError(name, "Unknown checkout field")
	}
	var a *model.Address
	switch prefix {
	case "billing":
		a = &f.Billing
	case "shipping":
		a = &f.Shipping
	default:
		return model.NewValidationError(name, "Unknown checkout field")
	}

	switch field {
	case "first_name":
		a.FirstName = value
	case "last_name":
		a.LastName = value
	case "company":
		a.Company = value
	case "address_1":
		a.Address1 = value
	case "address_2":
		a.Address2 = value
	case "city":
		a.City = value
	case "state":
		a.State = value
	case "postcode":
		a.Postcode = value
	case "country":
		a.Country = value
	case "email", "phone":
		if prefix != "billing" {
			return model.NewValidationError(name, "Unknown checkout field")
		}
		if field == "email" {
			a.Email = value
		} else {
			a.Phone = value
		}
	default:
		return model.NewValidationError(name, "Unknown checkout field")
	}
	return nil
}

// Submit places the order. While it runs the submit button is disabled
// and reads "Processing..."; a second submit is rejected. On success the
// redirect URL is published.
func (c *Checkout) Submit() (*model.OrderResult, error) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return nil, model.NewValidationError("checkout", "Checkout is not open")
	}
	if c.submitting {
		c.mu.Unlock()
		return nil, model.NewBusyError("checkout")
	}
	form := c.form
	if err := form.Validate(); err != nil {
		c.message = model.MessageOf(err)
		c.publish()
		c.mu.Unlock()
		return nil, err
	}
	c.submitting = true
	c.message = ""
	c.publish()
	c.mu.Unlock()

	res, err := c.coord.PlaceOrder(&form)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitting = false
	if err != nil {
		c.message = failureText(err, "Checkout failed")
		c.publish()
		return nil, err
	}
	c.redirect = res.Redirect
	c.publish()
	return res, nil
}

// View returns the checkout's full state.
func (c *Checkout) View() Diff {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fullDiff(NameCheckout, c.last, nil)
}

func failureText(err error, fallback string) string {
	switch model.KindOf(err) {
	case model.KindApplication, model.KindValidation:
		if msg := model.MessageOf(err); msg != "" {
			return msg
		}
	}
	return fallback
}
