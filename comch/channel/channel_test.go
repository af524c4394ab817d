package channel

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"xdao.co/ldpcoffload/comch"
)

func TestFrameMarshalRoundTrip(t *testing.T) {
	in := Frame{Type: FrameBulk, Consumer: 7, Payload: []byte("payload")}
	b, err := in.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(b) != headerSize+7 || b[0] != byte(FrameBulk) || binary.BigEndian.Uint32(b[1:5]) != 7 {
		t.Fatalf("unexpected header % x", b[:headerSize])
	}
	var out Frame
	if err := out.UnmarshalBinary(b); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("frame mismatch (-want +got):\n%s", diff)
	}
	b[headerSize] = 'X'
	if out.Payload[0] != 'p' {
		t.Fatalf("payload aliases the input")
	}
}

func TestFrameMalformed(t *testing.T) {
	cases := map[string][]byte{
		"short":        {1, 0, 0},
		"unknown type": {99, 0, 0, 0, 0, 0, 0, 0, 0},
		"zero type":    {0, 0, 0, 0, 0, 0, 0, 0, 0},
		"bad length":   {byte(FrameMessage), 0, 0, 0, 0, 0, 0, 0, 5, 'a'},
	}
	for name, b := range cases {
		var f Frame
		if err := f.UnmarshalBinary(b); !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("%s: got %v want ErrMalformedFrame", name, err)
		}
	}
	if _, err := (Frame{Type: 0}).MarshalBinary(); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("marshal unknown type: got %v", err)
	}
}

type recordingLink struct {
	sent    []Frame
	sendErr error
	closed  int
}

func (l *recordingLink) Send(f Frame) error {
	if l.sendErr != nil {
		return l.sendErr
	}
	l.sent = append(l.sent, f)
	return nil
}

func (l *recordingLink) Close() error {
	l.closed++
	return nil
}

type transition struct {
	From, To comch.ContextState
	Cause    bool
}

type recorder struct {
	transitions []transition
	messages    []string
	added       []uint32
	expired     []uint32
	bulkSent    int
	received    []int
	recvErr     error
	sendDone    int
}

func (r *recorder) callbacks() comch.Callbacks {
	return comch.Callbacks{
		MessageReceived: func(msg []byte) { r.messages = append(r.messages, string(msg)) },
		SendCompleted:   func(error) { r.sendDone++ },
		StateChanged: func(prev, next comch.ContextState, cause error) {
			r.transitions = append(r.transitions, transition{prev, next, cause != nil})
		},
		ConsumerAdded:   func(id uint32) { r.added = append(r.added, id) },
		ConsumerExpired: func(id uint32) { r.expired = append(r.expired, id) },
		BulkSent:        func(error) { r.bulkSent++ },
		BulkReceived: func(n int, err error) {
			if err != nil {
				r.recvErr = err
				return
			}
			r.received = append(r.received, n)
		},
	}
}

func drain(c *Client) int {
	n := 0
	for c.Progress() {
		n++
	}
	return n
}

func accept(maxMsg uint32) Frame {
	p := make([]byte, 4)
	binary.BigEndian.PutUint32(p, maxMsg)
	return Frame{Type: FrameAccept, Payload: p}
}

func started(t *testing.T) (*Client, *recordingLink, *recorder) {
	t.Helper()
	link := &recordingLink{}
	rec := &recorder{}
	c := NewClient(link, rec.callbacks(), Options{})
	if err := c.Start("svc"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.Deliver(accept(1024))
	drain(c)
	return c, link, rec
}

func TestClientStartAccept(t *testing.T) {
	c, link, rec := started(t)
	if len(link.sent) != 1 || link.sent[0].Type != FrameHello || string(link.sent[0].Payload) != "svc" {
		t.Fatalf("unexpected frames %+v", link.sent)
	}
	want := []transition{
		{comch.ContextIdle, comch.ContextStarting, false},
		{comch.ContextStarting, comch.ContextRunning, false},
	}
	if diff := cmp.Diff(want, rec.transitions); diff != "" {
		t.Fatalf("transitions (-want +got):\n%s", diff)
	}
	if c.MaxMessageSize() != 1024 {
		t.Fatalf("max message size %d, want peer limit 1024", c.MaxMessageSize())
	}
	if c.Progress() {
		t.Fatalf("Progress reported work on an empty queue")
	}
}

func TestClientReject(t *testing.T) {
	link := &recordingLink{}
	rec := &recorder{}
	c := NewClient(link, rec.callbacks(), Options{})
	if err := c.Start("svc"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.Deliver(Frame{Type: FrameReject, Payload: []byte("no")})
	drain(c)
	last := rec.transitions[len(rec.transitions)-1]
	if last.To != comch.ContextIdle || !last.Cause {
		t.Fatalf("reject did not fail the context: %+v", rec.transitions)
	}
	if err := c.SendMessage([]byte("x")); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("SendMessage after reject: got %v", err)
	}
}

func TestClientStartSendFailure(t *testing.T) {
	link := &recordingLink{sendErr: errors.New("down")}
	rec := &recorder{}
	c := NewClient(link, rec.callbacks(), Options{})
	if err := c.Start("svc"); err == nil {
		t.Fatalf("Start succeeded over a broken link")
	}
	drain(c)
	last := rec.transitions[len(rec.transitions)-1]
	if last.To != comch.ContextIdle || !last.Cause {
		t.Fatalf("transitions %+v", rec.transitions)
	}
}

func TestClientMessages(t *testing.T) {
	c, link, rec := started(t)
	if err := c.SendMessage(make([]byte, 1025)); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("oversized message: got %v", err)
	}
	if err := c.SendMessage([]byte("ping")); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	c.Deliver(Frame{Type: FrameMessage, Payload: []byte("pong")})
	drain(c)
	if rec.sendDone != 1 {
		t.Fatalf("send completions %d", rec.sendDone)
	}
	if diff := cmp.Diff([]string{"pong"}, rec.messages); diff != "" {
		t.Fatalf("messages (-want +got):\n%s", diff)
	}
	if got := link.sent[len(link.sent)-1]; got.Type != FrameMessage || string(got.Payload) != "ping" {
		t.Fatalf("last frame %+v", got)
	}
}

func TestClientBulk(t *testing.T) {
	c, link, rec := started(t)
	cons, err := c.NewConsumer()
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	if cons.ID() != 1 {
		t.Fatalf("consumer id %d", cons.ID())
	}
	if got := link.sent[len(link.sent)-1]; got.Type != FrameConsumerAdded || got.Consumer != 1 {
		t.Fatalf("consumer not announced: %+v", got)
	}

	// A transfer that arrives before a buffer is posted waits in the backlog.
	c.Deliver(Frame{Type: FrameBulk, Consumer: 1, Payload: []byte("early")})
	drain(c)
	if len(rec.received) != 0 {
		t.Fatalf("received without a posted buffer")
	}
	buf := make([]byte, 8)
	if err := cons.PostRecv(buf); err != nil {
		t.Fatalf("PostRecv: %v", err)
	}
	drain(c)
	if diff := cmp.Diff([]int{5}, rec.received); diff != "" || string(buf[:5]) != "early" {
		t.Fatalf("backlog delivery: %v %q", rec.received, buf)
	}

	if err := cons.PostRecv(make([]byte, 2)); err != nil {
		t.Fatalf("PostRecv: %v", err)
	}
	c.Deliver(Frame{Type: FrameBulk, Consumer: 1, Payload: []byte("too long")})
	drain(c)
	if !errors.Is(rec.recvErr, ErrRecvBufferTooSmall) {
		t.Fatalf("oversized transfer: got %v", rec.recvErr)
	}

	prod, err := c.NewProducer()
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	if err := prod.Send(9, []byte("req")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	drain(c)
	if rec.bulkSent != 1 {
		t.Fatalf("bulk completions %d", rec.bulkSent)
	}
	if got := link.sent[len(link.sent)-1]; got.Type != FrameBulk || got.Consumer != 9 {
		t.Fatalf("last frame %+v", got)
	}

	c.Deliver(Frame{Type: FrameConsumerAdded, Consumer: 4})
	c.Deliver(Frame{Type: FrameConsumerExpired, Consumer: 4})
	drain(c)
	if diff := cmp.Diff([]uint32{4}, rec.added); diff != "" {
		t.Fatalf("added: %s", diff)
	}
	if diff := cmp.Diff([]uint32{4}, rec.expired); diff != "" {
		t.Fatalf("expired: %s", diff)
	}

	if err := cons.Close(); err != nil {
		t.Fatalf("consumer Close: %v", err)
	}
	if got := link.sent[len(link.sent)-1]; got.Type != FrameConsumerExpired || got.Consumer != 1 {
		t.Fatalf("consumer expiry not sent: %+v", got)
	}
	if err := cons.PostRecv(buf); !errors.Is(err, ErrEndpointClosed) {
		t.Fatalf("PostRecv after close: got %v", err)
	}
}

func TestClientStop(t *testing.T) {
	c, link, rec := started(t)
	if err := c.SendMessage([]byte("last")); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if _, err := c.NewProducer(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("NewProducer while stopping: got %v", err)
	}
	drain(c)
	if rec.sendDone != 1 {
		t.Fatalf("pending completion lost on stop")
	}
	want := []transition{
		{comch.ContextIdle, comch.ContextStarting, false},
		{comch.ContextStarting, comch.ContextRunning, false},
		{comch.ContextRunning, comch.ContextStopping, false},
		{comch.ContextStopping, comch.ContextIdle, false},
	}
	if diff := cmp.Diff(want, rec.transitions); diff != "" {
		t.Fatalf("transitions (-want +got):\n%s", diff)
	}
	if got := link.sent[len(link.sent)-1]; got.Type != FrameBye {
		t.Fatalf("bye not sent: %+v", got)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if link.closed != 1 {
		t.Fatalf("link closed %d times", link.closed)
	}
	c.Deliver(Frame{Type: FrameMessage})
	if c.Progress() {
		t.Fatalf("closed client dispatched an event")
	}
}

func TestClientPeerByeAndFailure(t *testing.T) {
	c, _, rec := started(t)
	c.Deliver(Frame{Type: FrameBye})
	drain(c)
	if last := rec.transitions[len(rec.transitions)-1]; last.To != comch.ContextIdle || last.Cause {
		t.Fatalf("peer bye: %+v", rec.transitions)
	}

	c2, _, rec2 := started(t)
	c2.Fail(errors.New("stream reset"))
	c2.Fail(errors.New("again"))
	drain(c2)
	idle := 0
	for _, tr := range rec2.transitions {
		if tr.To == comch.ContextIdle {
			idle++
			if !tr.Cause {
				t.Fatalf("failure without cause: %+v", tr)
			}
		}
	}
	if idle != 1 {
		t.Fatalf("went idle %d times", idle)
	}
}
