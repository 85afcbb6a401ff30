package widget

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/rlorbach/business-ai-agent/internal/logger"
)

// ErrNoTransition is returned for events that no rendered control offers.
var ErrNoTransition = errors.New("no transition for event")

type track int

const (
	trackNone track = iota
	trackWebsite
	trackAI
)

type Options struct {
	Script   *Script
	Session  Session
	Relay    Relay
	Renderer Renderer
	Opener   Opener

	// ContactURL overrides the script's contact page.
	ContactURL string
}

// Controller drives the scripted conversation. All state is guarded by mu;
// relay calls run on their own goroutines and report back through gen so
// completions from before a restart are dropped.
type Controller struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	ctx      context.Context
	stop     context.CancelFunc
	script   *Script
	relay    Relay
	renderer Renderer
	opener   Opener
	url      string
	logger   *logger.Logger

	session    Session
	state      State
	transcript []Message
	controls   []Control
	live       *strings.Builder

	track   track
	choice  string
	attempt int
	gen     uint64
	cancel  context.CancelFunc
}

type transition struct {
	next   State
	effect func(c *Controller, ev Event)
}

type stateEvent struct {
	state State
	event EventType
}

// table is filled in init because the effects refer back to it.
var table map[stateEvent]transition

func init() {
	table = map[stateEvent]transition{
		{StateStart, EventWebsite}:                {StateWebsiteAge, (*Controller).chooseWebsite},
		{StateStart, EventAI}:                     {StateAIBusiness, (*Controller).chooseAI},
		{StateStart, EventSomethingElse}:          {StateStart, (*Controller).chooseSomethingElse},
		{StateStart, EventOpenContact}:            {StateContact, (*Controller).showContactForm},
		{StateWebsiteAge, EventAgeChosen}:         {StateWebsiteImprovements, (*Controller).chooseAge},
		{StateAIBusiness, EventBusinessSubmitted}: {StateAIBenefits, (*Controller).submitBusiness},
		{StateWebsiteImprovements, EventRetry}:    {StateWebsiteImprovements, (*Controller).retry},
		{StateWebsiteImprovements, EventFallback}: {StateWebsiteImprovements, (*Controller).fallback},
		{StateAIBenefits, EventRetry}:             {StateAIBenefits, (*Controller).retry},
		{StateAIBenefits, EventFallback}:          {StateAIBenefits, (*Controller).fallback},
		{StateClosing, EventAccept}:               {StateClosing, (*Controller).accept},
		{StateClosing, EventDecline}:              {StateEnded, (*Controller).decline},
		{StateClosing, EventOpenContact}:          {StateContact, (*Controller).showContactForm},
		{StateContact, EventContactSubmitted}:     {StateContact, (*Controller).submitContact},
	}
}

func New(opts Options) *Controller {
	script := opts.Script
	if script == nil {
		script = DefaultScript()
	}
	url := opts.ContactURL
	if url == "" {
		url = script.ContactURL
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Controller{
		ctx:      ctx,
		stop:     stop,
		script:   script,
		relay:    opts.Relay,
		renderer: opts.Renderer,
		opener:   opts.Opener,
		url:      url,
		logger:   logger.NewLogger("widget"),
		session:  opts.Session,
	}
}

// Start enters the start menu unless the conversation is already running.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != "" {
		c.render()
		return
	}
	c.enterStart()
}

// Dispatch applies ev to the current state.
func (c *Controller) Dispatch(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.Type == EventRestart {
		c.restart()
		return nil
	}
	t, ok := table[stateEvent{c.state, ev.Type}]
	if !ok || !c.offers(ev) {
		return errors.Wrapf(ErrNoTransition, "%s in state %s", ev.Type, c.state)
	}
	c.logger.Debug("dispatch ", ev.Type, " in ", c.state)
	c.state = t.next
	t.effect(c, ev)
	return nil
}

// fire applies an event raised by the controller itself. No control needs
// to offer it.
func (c *Controller) fire(ev Event) {
	t, ok := table[stateEvent{c.state, ev.Type}]
	if !ok {
		c.logger.Error("no transition for internal event ", ev.Type, " in ", c.state)
		return
	}
	c.state = t.next
	t.effect(c, ev)
}

func (c *Controller) offers(ev Event) bool {
	for _, ctl := range c.controls {
		if ctl.Event.Type != ev.Type {
			continue
		}
		if ctl.Kind != ControlButton || ctl.Event.Value == "" || ctl.Event.Value == ev.Value {
			return true
		}
	}
	return false
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// View returns the current snapshot.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view()
}

// Wait blocks until every in-flight relay call has settled.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close cancels in-flight relay calls and waits for them.
func (c *Controller) Close() {
	c.stop()
	c.wg.Wait()
}

func (c *Controller) view() View {
	v := View{
		State:      c.state,
		Transcript: append([]Message(nil), c.transcript...),
		Controls:   append([]Control(nil), c.controls...),
	}
	if c.live != nil {
		v.Streaming = true
		v.Live = c.live.String()
	}
	return v
}

func (c *Controller) render() {
	if c.renderer != nil {
		c.renderer.Render(c.view())
	}
}

func (c *Controller) say(text string) {
	c.transcript = append(c.transcript, Message{Role: RoleAgent, Text: text})
}

func (c *Controller) record(text string) {
	c.transcript = append(c.transcript, Message{Role: RoleUser, Text: text})
}

func (c *Controller) button(label string, ev Event, primary bool) Control {
	return Control{Kind: ControlButton, Label: label, Event: ev, Primary: primary}
}

func (c *Controller) startOver() Control {
	return c.button(c.script.Labels.StartOver, Event{Type: EventRestart}, false)
}

func (c *Controller) enterStart() {
	l := c.script.Labels
	c.state = StateStart
	c.track = trackNone
	c.choice = ""
	c.attempt = 0
	c.say(c.script.Messages.Greeting)
	c.controls = []Control{
		c.button(l.Website, Event{Type: EventWebsite, Value: l.Website}, false),
		c.button(l.AI, Event{Type: EventAI, Value: l.AI}, false),
		c.button(l.SomethingElse, Event{Type: EventSomethingElse, Value: l.SomethingElse}, false),
	}
	c.render()
}

func (c *Controller) restart() {
	c.logger.Debug("restart from ", c.state)
	c.abandonCall()
	c.transcript = nil
	c.controls = nil
	c.enterStart()
}

// abandonCall cancels the in-flight call and invalidates its callbacks.
func (c *Controller) abandonCall() {
	c.gen++
	c.live = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller) chooseWebsite(ev Event) {
	c.track = trackWebsite
	c.record(ev.Value)
	c.say(c.script.Messages.WebsiteAge)
	c.controls = make([]Control, 0, len(c.script.Website.Ages))
	for _, age := range c.script.Website.Ages {
		c.controls = append(c.controls, c.button(age, Event{Type: EventAgeChosen, Value: age}, false))
	}
	c.render()
}

func (c *Controller) chooseAI(ev Event) {
	c.track = trackAI
	c.record(ev.Value)
	c.say(c.script.Messages.AIBusiness)
	c.controls = []Control{{
		Kind:        ControlInput,
		Label:       c.script.Labels.Send,
		Placeholder: c.script.Labels.BusinessPlaceholder,
		Event:       Event{Type: EventBusinessSubmitted},
	}}
	c.render()
}

func (c *Controller) chooseSomethingElse(ev Event) {
	c.record(ev.Value)
	c.openContact()
}

func (c *Controller) chooseAge(ev Event) {
	c.choice = ev.Value
	c.record(ev.Value)
	c.present(0)
}

func (c *Controller) submitBusiness(ev Event) {
	text := strings.TrimSpace(ev.Value)
	if text == "" {
		c.state = StateAIBusiness
		return
	}
	c.choice = text
	c.record(text)
	c.present(0)
}

func (c *Controller) retry(Event) {
	c.present(c.attempt + 1)
}

func (c *Controller) fallback(Event) {
	c.session.Tailored = false
	c.canned()
}

// present shows tailored content when the session allows it, canned otherwise.
func (c *Controller) present(attempt int) {
	c.attempt = attempt
	if !c.session.Tailored || c.relay == nil {
		c.canned()
		return
	}

	m := c.script.Messages
	switch {
	case attempt > 0:
		c.say(m.Retrying)
	case c.track == trackWebsite:
		c.say(m.GeneratingWebsite)
	default:
		c.say(m.GeneratingAI)
	}
	c.controls = nil

	prompt := fill(c.script.AI.Prompt, c.choice)
	if c.track == trackWebsite {
		prompt = fill(c.script.Website.Prompt, c.choice)
	}

	c.abandonCall()
	gen := c.gen
	ctx, cancel := context.WithCancel(c.ctx)
	c.cancel = cancel
	c.live = &strings.Builder{}
	c.render()

	streaming := c.session.Streaming
	c.wg.Add(1)
	go c.call(ctx, gen, prompt, streaming)
}

func (c *Controller) call(ctx context.Context, gen uint64, prompt string, streaming bool) {
	defer c.wg.Done()

	var err error
	if streaming {
		var s Stream
		s, err = c.relay.Stream(ctx, prompt, func(text string) { c.appendLive(gen, text) })
		if err == nil {
			<-s.Done()
			err = s.Err()
		}
	} else {
		var text string
		text, err = c.relay.Complete(ctx, prompt)
		if err == nil {
			c.appendLive(gen, text)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		c.logger.Debug("dropping stale relay result")
		return
	}
	c.settle(err)
}

func (c *Controller) appendLive(gen uint64, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.live == nil {
		return
	}
	c.live.WriteString(text)
	c.render()
}

func (c *Controller) settle(err error) {
	text := ""
	if c.live != nil {
		text = c.live.String()
	}
	c.live = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	if err == nil {
		if strings.TrimSpace(text) != "" {
			c.say(text)
		}
		c.enterClosing()
		return
	}

	c.logger.Warn("relay call failed on attempt ", c.attempt, ": ", err)
	m := c.script.Messages
	if c.attempt < c.script.MaxRetries {
		c.say(m.ConnectionIssue)
		c.controls = []Control{
			c.button(c.script.Labels.TryAgain, Event{Type: EventRetry}, true),
			c.button(c.script.Labels.ShowDefault, Event{Type: EventFallback}, false),
		}
		c.render()
		return
	}
	c.say(m.Unreachable)
	c.session.Tailored = false
	c.canned()
}

func (c *Controller) canned() {
	if c.track == trackWebsite {
		c.say(c.script.WebsiteAdvice(c.choice))
	} else {
		c.say(fill(c.script.Messages.BenefitsIntro, c.choice))
		c.say(numbered(c.script.Benefits(c.choice)))
	}
	c.enterClosing()
}

func (c *Controller) enterClosing() {
	l := c.script.Labels
	c.state = StateClosing
	c.say(c.script.Messages.Closing)
	c.controls = []Control{
		c.button(l.Yes, Event{Type: EventAccept, Value: l.Yes}, true),
		c.button(l.No, Event{Type: EventDecline, Value: l.No}, false),
		c.startOver(),
	}
	c.render()
}

func (c *Controller) accept(ev Event) {
	c.record(ev.Value)
	c.openContact()
}

func (c *Controller) decline(ev Event) {
	c.record(ev.Value)
	if c.track == trackWebsite {
		c.say(c.script.Messages.DeclineWebsite)
	} else {
		c.say(c.script.Messages.DeclineAI)
	}
	c.controls = nil
	c.render()
}

// openContact hands the contact page to the opener and falls back to the
// in-widget form when that is not possible.
func (c *Controller) openContact() {
	if c.opener == nil {
		c.fire(Event{Type: EventOpenContact})
		return
	}
	if err := c.opener.Open(c.url); err != nil {
		c.logger.Warn("open contact page: ", err)
		c.fire(Event{Type: EventOpenContact})
		return
	}
	c.say(c.script.Messages.OpeningContact)
	c.render()
}

func (c *Controller) showContactForm(Event) {
	c.say(c.script.Messages.ContactPrompt)
	c.controls = []Control{{
		Kind:  ControlForm,
		Label: c.script.Labels.Send,
		Event: Event{Type: EventContactSubmitted},
	}}
	c.render()
}

func (c *Controller) submitContact(ev Event) {
	form := ev.Contact
	if strings.TrimSpace(form.Email) == "" {
		if c.renderer != nil {
			c.renderer.Alert(c.script.Messages.ContactMissingEmail)
		}
		return
	}
	name := strings.TrimSpace(form.Name)
	if name == "" {
		name = "-"
	}
	c.logger.With("name", name).With("email", form.Email).Info("contact request recorded")
	c.record(fmt.Sprintf("Contact: %s | %s", name, strings.TrimSpace(form.Email)))
	c.say(c.script.Messages.ContactThanks)
	c.controls = []Control{c.startOver()}
	c.render()
}
