package mqttclient

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/veya-engine/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

type fakeStarter struct {
	text    string
	capture pipeline.Capture
	ai      bool
	cast    pipeline.CastRequest
	err     error
}

func (f *fakeStarter) StartTextInsight(text string) (pipeline.Handle, error) {
	f.text = text
	return pipeline.Handle{Pipeline: pipeline.TextInsight, Invocation: "t1"}, f.err
}

func (f *fakeStarter) StartVisionCapture(c pipeline.Capture, ai bool) (pipeline.Handle, error) {
	f.capture, f.ai = c, ai
	return pipeline.Handle{Pipeline: pipeline.VisionCapture, Invocation: "v1"}, f.err
}

func (f *fakeStarter) StartCast(req pipeline.CastRequest) (pipeline.Handle, error) {
	f.cast = req
	return pipeline.Handle{Pipeline: pipeline.Cast, Invocation: "c1"}, f.err
}

func TestDecodeTrigger(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		tr, err := DecodeTrigger([]byte(` {"text":"hello","image_base64":"aGk=","ai_completion":true}`))
		require.NoError(t, err)
		assert.Equal(t, "hello", tr.Text)
		assert.Equal(t, []byte("hi"), tr.Image)
		require.NotNil(t, tr.AICompletion)
		assert.True(t, *tr.AICompletion)
	})

	t.Run("msgpack", func(t *testing.T) {
		payload, err := msgpack.Marshal(map[string]any{
			"ocr_text": "scanned",
			"image":    []byte{1, 2, 3},
			"region":   map[string]int{"x": 1, "y": 2, "width": 30, "height": 40},
		})
		require.NoError(t, err)

		tr, err := DecodeTrigger(payload)
		require.NoError(t, err)
		assert.Equal(t, "scanned", tr.OCRText)
		assert.Equal(t, []byte{1, 2, 3}, tr.Image)
		assert.Equal(t, pipeline.Region{X: 1, Y: 2, Width: 30, Height: 40}, tr.Region)
		assert.Nil(t, tr.AICompletion)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := DecodeTrigger([]byte("  "))
		assert.Error(t, err)
	})

	t.Run("bad base64", func(t *testing.T) {
		_, err := DecodeTrigger([]byte(`{"image_base64":"!!"}`))
		assert.Error(t, err)
	})
}

func TestDispatch(t *testing.T) {
	s := &fakeStarter{}
	h := NewTriggerHandler(s, func() bool { return true }, zerolog.Nop())

	handle, err := h.Dispatch("veya/trigger/text-insight", []byte(`{"text":"bonjour"}`))
	require.NoError(t, err)
	assert.Equal(t, pipeline.TextInsight, handle.Pipeline)
	assert.Equal(t, "bonjour", s.text)

	_, err = h.Dispatch("veya/trigger/vision_capture", []byte(`{"ocr_text":"abc"}`))
	require.NoError(t, err)
	assert.True(t, s.ai, "missing ai_completion uses the settings default")
	assert.Equal(t, pipeline.TextRecognizer("abc"), s.capture.Recognizer)

	_, err = h.Dispatch("veya/trigger/vision_capture", []byte(`{"ocr_text":"abc","ai_completion":false}`))
	require.NoError(t, err)
	assert.False(t, s.ai)

	_, err = h.Dispatch("veya/trigger/cast", []byte(`{"content":"x","source":"custom","speed":"slow","mode":"immersive","target_language":"en"}`))
	require.NoError(t, err)
	assert.Equal(t, pipeline.CastRequest{
		Content: "x", Source: pipeline.SourceCustom, Speed: pipeline.SpeedSlow,
		Mode: pipeline.ModeImmersive, TargetLanguage: "en",
	}, s.cast)

	_, err = h.Dispatch("veya/trigger/unknown", []byte(`{}`))
	assert.Error(t, err)
}

func TestDispatchPassesStartErrors(t *testing.T) {
	s := &fakeStarter{err: pipeline.ErrInvalidInput}
	h := NewTriggerHandler(s, nil, zerolog.Nop())
	_, err := h.Dispatch("veya/trigger/text_insight", []byte(`{"text":""}`))
	assert.ErrorIs(t, err, pipeline.ErrInvalidInput)

	// HandleMessage only logs and counts.
	h.HandleMessage("veya/trigger/text_insight", []byte(`{"text":""}`))
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs map[string][][]byte
	fail bool
}

func (f *fakePublisher) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker down")
	}
	if f.msgs == nil {
		f.msgs = map[string][][]byte{}
	}
	f.msgs[topic] = append(f.msgs[topic], payload)
	return nil
}

func TestStatusPublisher(t *testing.T) {
	pub := &fakePublisher{}
	sp := NewStatusPublisher(pub, "veya/status", 16, zerolog.Nop())

	o := pipeline.New(pipeline.Options{Log: zerolog.Nop()})
	defer o.Shutdown(t.Context())
	sp.Watch(o.Channel(pipeline.VisionCapture))

	_, err := o.StartVisionCapture(pipeline.Capture{Recognizer: pipeline.TextRecognizer("hello")}, false)
	require.NoError(t, err)

	sub := o.Channel(pipeline.VisionCapture).Attach()
	defer sub.Close()
	for {
		ev, err := sub.Next(t.Context())
		require.NoError(t, err)
		if ev.Kind.Terminal() {
			break
		}
	}
	sp.Close()

	msgs := pub.msgs["veya/status/vision_capture"]
	require.Len(t, msgs, 2, "start and done, no content deltas")

	var first, second Status
	require.NoError(t, json.Unmarshal(msgs[0], &first))
	require.NoError(t, json.Unmarshal(msgs[1], &second))
	assert.Equal(t, pipeline.EventStart, first.Kind)
	assert.Equal(t, pipeline.EventDone, second.Kind)
	assert.Equal(t, first.Invocation, second.Invocation)
}

func TestStatusPublisherDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	pub := &blockingPublisher{release: block}
	sp := NewStatusPublisher(pub, "veya/status", 1, zerolog.Nop())

	progress := 10
	for i := 0; i < 5; i++ {
		sp.observe(pipeline.Event{Pipeline: pipeline.Cast, Kind: pipeline.EventDelta, Progress: &progress})
	}
	close(block)

	done := make(chan struct{})
	go func() {
		sp.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.Positive(t, sp.dropped.Load())
	sp.observe(pipeline.Event{Pipeline: pipeline.Cast, Kind: pipeline.EventStart})
}

type blockingPublisher struct {
	release chan struct{}
}

func (b *blockingPublisher) Publish(topic string, payload []byte) error {
	<-b.release
	return nil
}

func TestParseTopics(t *testing.T) {
	assert.Equal(t, []string{"a/#", "b"}, parseTopics(" a/# , ,b"))
	assert.Equal(t, []string{"veya/trigger/#"}, parseTopics(""))
}
