package widget

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	views  []View
	alerts []string
}

func (r *recorder) Render(v View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, v)
}

func (r *recorder) Alert(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, msg)
}

func (r *recorder) sawLive(text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.views {
		if v.Streaming && v.Live == text {
			return true
		}
	}
	return false
}

type fakeOpener struct {
	err  error
	urls []string
}

func (o *fakeOpener) Open(url string) error {
	o.urls = append(o.urls, url)
	return o.err
}

type fakeStream struct {
	done chan struct{}
	err  error
}

func (s *fakeStream) Cancel()               {}
func (s *fakeStream) Done() <-chan struct{} { return s.done }
func (s *fakeStream) Err() error            { return s.err }

type fakeRelay struct {
	mu        sync.Mutex
	chunks    []string
	err       error
	streamErr error
	block     bool
	prompts   []string
}

func (f *fakeRelay) begin(prompt string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
}

func (f *fakeRelay) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeRelay) Stream(ctx context.Context, prompt string, onChunk func(string)) (Stream, error) {
	f.begin(prompt)
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeStream{done: make(chan struct{})}
	go func() {
		defer close(s.done)
		for _, chunk := range f.chunks {
			onChunk(chunk)
		}
		if f.block {
			<-ctx.Done()
			s.err = ctx.Err()
			return
		}
		s.err = f.streamErr
	}()
	return s, nil
}

func (f *fakeRelay) Complete(ctx context.Context, prompt string) (string, error) {
	f.begin(prompt)
	if f.err != nil {
		return "", f.err
	}
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return strings.Join(f.chunks, ""), nil
}

func newController(t *testing.T, session Session, relay Relay, opener Opener) (*Controller, *recorder) {
	t.Helper()
	r := &recorder{}
	c := New(Options{Session: session, Relay: relay, Renderer: r, Opener: opener})
	t.Cleanup(c.Close)
	c.Start()
	return c, r
}

func texts(v View) []string {
	out := make([]string, len(v.Transcript))
	for i, m := range v.Transcript {
		out[i] = m.Text
	}
	return out
}

func labels(v View) []string {
	out := make([]string, len(v.Controls))
	for i, ctl := range v.Controls {
		out[i] = ctl.Label
	}
	return out
}

func last(v View) Message {
	return v.Transcript[len(v.Transcript)-1]
}

func TestStartMenu(t *testing.T) {
	c, r := newController(t, Session{}, nil, nil)

	v := c.View()
	assert.Equal(t, StateStart, v.State)
	assert.Equal(t, []string{DefaultScript().Messages.Greeting}, texts(v))
	assert.Equal(t, []string{"Website", "AI", "Something else"}, labels(v))
	assert.NotEmpty(t, r.views)

	c.Start()
	assert.Len(t, c.View().Transcript, 1)
}

func TestWebsiteCannedPath(t *testing.T) {
	relay := &fakeRelay{}
	c, _ := newController(t, Session{Tailored: false}, relay, nil)

	require.NoError(t, c.Dispatch(Event{Type: EventWebsite, Value: "Website"}))
	v := c.View()
	assert.Equal(t, StateWebsiteAge, v.State)
	assert.Equal(t, []string{"Never", "10+ years", "5-10 years", "1-5 years"}, labels(v))

	require.NoError(t, c.Dispatch(Event{Type: EventAgeChosen, Value: "10+ years"}))
	c.Wait()

	v = c.View()
	assert.Equal(t, StateClosing, v.State)
	assert.Contains(t, texts(v), "10+ years")
	assert.Contains(t, texts(v), DefaultScript().WebsiteAdvice("10+ years"))
	assert.Equal(t, []string{"Yes", "No", "Start Over"}, labels(v))
	assert.True(t, v.Controls[0].Primary)
	assert.Zero(t, relay.calls())
}

func TestAICannedClassification(t *testing.T) {
	tests := []struct {
		business string
		first    string
	}{
		{"Online Shop", "1. Product recommendations to increase AOV"},
		{"eCommerce", "1. Product recommendations to increase AOV"},
		{"cleaning services", "1. Automated scheduling and reminders"},
		{"Dental Clinic", "1. Patient triage assistants"},
		{"bakery", "1. Automation of repetitive tasks"},
	}
	for _, tt := range tests {
		t.Run(tt.business, func(t *testing.T) {
			c, _ := newController(t, Session{}, nil, nil)
			require.NoError(t, c.Dispatch(Event{Type: EventAI, Value: "AI"}))
			require.NoError(t, c.Dispatch(Event{Type: EventBusinessSubmitted, Value: "  " + tt.business + " "}))

			v := c.View()
			all := texts(v)
			assert.Contains(t, all, tt.business)
			assert.Contains(t, all, "Here are benefits for "+tt.business+":")
			found := false
			for _, text := range all {
				if strings.HasPrefix(text, tt.first+"\n2. ") {
					found = true
				}
			}
			assert.True(t, found, "numbered benefits missing from %v", all)
			assert.Equal(t, StateClosing, v.State)
		})
	}
}

func TestBlankBusinessIgnored(t *testing.T) {
	c, _ := newController(t, Session{}, nil, nil)
	require.NoError(t, c.Dispatch(Event{Type: EventAI, Value: "AI"}))
	before := c.View()

	require.NoError(t, c.Dispatch(Event{Type: EventBusinessSubmitted, Value: "   "}))
	after := c.View()
	assert.Equal(t, StateAIBusiness, after.State)
	assert.Equal(t, before.Transcript, after.Transcript)
	assert.Equal(t, ControlInput, after.Controls[0].Kind)
}

func TestTailoredStreamCommitsLiveBubble(t *testing.T) {
	relay := &fakeRelay{chunks: []string{"1. Faster", " pages"}}
	c, r := newController(t, Session{Tailored: true, Streaming: true}, relay, nil)

	require.NoError(t, c.Dispatch(Event{Type: EventWebsite, Value: "Website"}))
	require.NoError(t, c.Dispatch(Event{Type: EventAgeChosen, Value: "5-10 years"}))
	c.Wait()

	v := c.View()
	assert.Equal(t, StateClosing, v.State)
	assert.False(t, v.Streaming)
	assert.Contains(t, texts(v), "Generating tailored recommendations...")
	assert.Contains(t, texts(v), "1. Faster pages")
	assert.True(t, r.sawLive("1. Faster"))
	require.Len(t, relay.prompts, 1)
	assert.Equal(t,
		"Provide 6 concise technical improvements for a website that is 5-10 years. Present them as numbered bullet points.",
		relay.prompts[0])
}

func TestTailoredBufferedCall(t *testing.T) {
	relay := &fakeRelay{chunks: []string{"1. Chatbots"}}
	c, _ := newController(t, Session{Tailored: true}, relay, nil)

	require.NoError(t, c.Dispatch(Event{Type: EventAI, Value: "AI"}))
	require.NoError(t, c.Dispatch(Event{Type: EventBusinessSubmitted, Value: "ecommerce"}))
	c.Wait()

	v := c.View()
	assert.Equal(t, StateClosing, v.State)
	assert.Contains(t, texts(v), "Fetching tailored benefits...")
	assert.Contains(t, texts(v), "1. Chatbots")
	assert.Equal(t,
		[]string{"List 6 concise benefits of using AI for a ecommerce business, formatted as numbered bullet points."},
		relay.prompts)
}

func TestFailedStreamDiscardsLiveBubble(t *testing.T) {
	relay := &fakeRelay{chunks: []string{"partial"}, streamErr: errors.New("reset")}
	c, r := newController(t, Session{Tailored: true, Streaming: true}, relay, nil)

	require.NoError(t, c.Dispatch(Event{Type: EventWebsite, Value: "Website"}))
	require.NoError(t, c.Dispatch(Event{Type: EventAgeChosen, Value: "Never"}))
	c.Wait()

	v := c.View()
	assert.True(t, r.sawLive("partial"))
	assert.NotContains(t, texts(v), "partial")
	assert.False(t, v.Streaming)
	assert.Equal(t, "Connection issue. Let me try again...", last(v).Text)
	assert.Equal(t, []string{"Try Again Now", "Show Default Results"}, labels(v))
	assert.Equal(t, StateWebsiteImprovements, v.State)
}

func TestRetriesExhaustedFallBackForGood(t *testing.T) {
	relay := &fakeRelay{err: errors.New("unreachable")}
	c, _ := newController(t, Session{Tailored: true, Streaming: true}, relay, nil)

	require.NoError(t, c.Dispatch(Event{Type: EventWebsite, Value: "Website"}))
	require.NoError(t, c.Dispatch(Event{Type: EventAgeChosen, Value: "1-5 years"}))
	c.Wait()

	for i := 0; i < 2; i++ {
		require.Equal(t, []string{"Try Again Now", "Show Default Results"}, labels(c.View()))
		require.NoError(t, c.Dispatch(Event{Type: EventRetry}))
		c.Wait()
	}

	v := c.View()
	assert.Equal(t, 3, relay.calls())
	assert.Contains(t, texts(v), "Retrying...")
	assert.Contains(t, texts(v), "Unable to connect to backend. Showing default recommendations.")
	assert.Contains(t, texts(v), DefaultScript().WebsiteAdvice("1-5 years"))
	assert.Equal(t, StateClosing, v.State)
	assert.False(t, c.Session().Tailored)

	require.NoError(t, c.Dispatch(Event{Type: EventRestart}))
	require.NoError(t, c.Dispatch(Event{Type: EventAI, Value: "AI"}))
	require.NoError(t, c.Dispatch(Event{Type: EventBusinessSubmitted, Value: "shop"}))
	c.Wait()
	assert.Equal(t, 3, relay.calls())
	assert.Equal(t, StateClosing, c.State())
}

func TestFallbackShowsDefaults(t *testing.T) {
	relay := &fakeRelay{err: errors.New("unreachable")}
	c, _ := newController(t, Session{Tailored: true}, relay, nil)

	require.NoError(t, c.Dispatch(Event{Type: EventAI, Value: "AI"}))
	require.NoError(t, c.Dispatch(Event{Type: EventBusinessSubmitted, Value: "clinic"}))
	c.Wait()
	require.NoError(t, c.Dispatch(Event{Type: EventFallback}))

	v := c.View()
	assert.Equal(t, StateClosing, v.State)
	assert.Contains(t, texts(v), "Here are benefits for clinic:")
	assert.False(t, c.Session().Tailored)
	assert.Equal(t, 1, relay.calls())
}

func TestRestartDropsInFlightStream(t *testing.T) {
	relay := &fakeRelay{chunks: []string{"early"}, block: true}
	c, _ := newController(t, Session{Tailored: true, Streaming: true}, relay, nil)

	require.NoError(t, c.Dispatch(Event{Type: EventWebsite, Value: "Website"}))
	require.NoError(t, c.Dispatch(Event{Type: EventAgeChosen, Value: "Never"}))
	require.NoError(t, c.Dispatch(Event{Type: EventRestart}))
	c.Wait()

	v := c.View()
	assert.Equal(t, StateStart, v.State)
	assert.Equal(t, []string{DefaultScript().Messages.Greeting}, texts(v))
	assert.Equal(t, []string{"Website", "AI", "Something else"}, labels(v))
	assert.False(t, v.Streaming)
	assert.True(t, c.Session().Tailored)
}

func TestRejectsEventsWithoutControl(t *testing.T) {
	relay := &fakeRelay{block: true}
	c, _ := newController(t, Session{Tailored: true, Streaming: true}, relay, nil)

	err := c.Dispatch(Event{Type: EventAccept, Value: "Yes"})
	assert.True(t, errors.Is(err, ErrNoTransition))

	require.NoError(t, c.Dispatch(Event{Type: EventWebsite, Value: "Website"}))
	err = c.Dispatch(Event{Type: EventAgeChosen, Value: "20 years"})
	assert.True(t, errors.Is(err, ErrNoTransition))
	assert.Equal(t, StateWebsiteAge, c.State())

	require.NoError(t, c.Dispatch(Event{Type: EventAgeChosen, Value: "Never"}))
	err = c.Dispatch(Event{Type: EventRetry})
	assert.True(t, errors.Is(err, ErrNoTransition))
	assert.Empty(t, c.View().Controls)
}

func TestDeclineEndsConversation(t *testing.T) {
	tests := []struct {
		name     string
		track    Event
		choice   Event
		farewell string
	}{
		{
			name:     "website",
			track:    Event{Type: EventWebsite, Value: "Website"},
			choice:   Event{Type: EventAgeChosen, Value: "Never"},
			farewell: "No problem — feel free to re-open this chat anytime.",
		},
		{
			name:     "ai",
			track:    Event{Type: EventAI, Value: "AI"},
			choice:   Event{Type: EventBusinessSubmitted, Value: "bakery"},
			farewell: "Alright — close the chat and reach out anytime.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newController(t, Session{}, nil, nil)
			require.NoError(t, c.Dispatch(tt.track))
			require.NoError(t, c.Dispatch(tt.choice))
			require.NoError(t, c.Dispatch(Event{Type: EventDecline, Value: "No"}))

			v := c.View()
			assert.Equal(t, StateEnded, v.State)
			assert.Empty(t, v.Controls)
			assert.Equal(t, "No", v.Transcript[len(v.Transcript)-2].Text)
			assert.Equal(t, tt.farewell, last(v).Text)

			assert.Error(t, c.Dispatch(Event{Type: EventAccept, Value: "Yes"}))
			require.NoError(t, c.Dispatch(Event{Type: EventRestart}))
			assert.Equal(t, StateStart, c.State())
		})
	}
}

func TestAcceptOpensContactPage(t *testing.T) {
	opener := &fakeOpener{}
	c, _ := newController(t, Session{}, nil, opener)

	require.NoError(t, c.Dispatch(Event{Type: EventWebsite, Value: "Website"}))
	require.NoError(t, c.Dispatch(Event{Type: EventAgeChosen, Value: "Never"}))
	require.NoError(t, c.Dispatch(Event{Type: EventAccept, Value: "Yes"}))

	v := c.View()
	assert.Equal(t, []string{"https://lorbachdigital.com/contact/"}, opener.urls)
	assert.Equal(t, "Opening contact page...", last(v).Text)
	assert.Equal(t, "Yes", v.Transcript[len(v.Transcript)-2].Text)
	assert.Equal(t, StateClosing, v.State)
}

func TestSomethingElseOpensContactPage(t *testing.T) {
	opener := &fakeOpener{}
	r := &recorder{}
	c := New(Options{Renderer: r, Opener: opener, ContactURL: "https://example.com/contact"})
	defer c.Close()
	c.Start()

	require.NoError(t, c.Dispatch(Event{Type: EventSomethingElse, Value: "Something else"}))
	v := c.View()
	assert.Equal(t, []string{"https://example.com/contact"}, opener.urls)
	assert.Equal(t, []string{DefaultScript().Messages.Greeting, "Something else", "Opening contact page..."}, texts(v))
	assert.Equal(t, StateStart, v.State)
}

func TestContactFormWhenOpenerFails(t *testing.T) {
	opener := &fakeOpener{err: errors.New("no browser")}
	c, r := newController(t, Session{}, nil, opener)

	require.NoError(t, c.Dispatch(Event{Type: EventSomethingElse, Value: "Something else"}))
	v := c.View()
	assert.Equal(t, StateContact, v.State)
	require.Len(t, v.Controls, 1)
	assert.Equal(t, ControlForm, v.Controls[0].Kind)

	require.NoError(t, c.Dispatch(Event{Type: EventContactSubmitted, Contact: ContactForm{Name: "Ada", Email: "  "}}))
	assert.Equal(t, []string{"Please include an email."}, r.alerts)
	assert.Equal(t, v.Transcript, c.View().Transcript)
	assert.Equal(t, StateContact, c.State())

	require.NoError(t, c.Dispatch(Event{Type: EventContactSubmitted, Contact: ContactForm{Email: "ada@example.com", Note: "hi"}}))
	v = c.View()
	assert.Contains(t, texts(v), "Contact: - | ada@example.com")
	assert.Equal(t, DefaultScript().Messages.ContactThanks, last(v).Text)
	assert.Equal(t, []string{"Start Over"}, labels(v))
}

func TestOpenContactIsInternal(t *testing.T) {
	c, _ := newController(t, Session{}, nil, &fakeOpener{})

	require.NoError(t, c.Dispatch(Event{Type: EventWebsite, Value: "Website"}))
	require.NoError(t, c.Dispatch(Event{Type: EventAgeChosen, Value: "Never"}))
	err := c.Dispatch(Event{Type: EventOpenContact})
	assert.True(t, errors.Is(err, ErrNoTransition))
	assert.Equal(t, StateClosing, c.State())
}
