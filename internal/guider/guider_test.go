package guider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/QHYCCD-QUARCS/guidelink/internal/channel"
	"github.com/QHYCCD-QUARCS/guidelink/internal/command"
	"github.com/QHYCCD-QUARCS/guidelink/internal/infrastructure/resilience"
	"github.com/QHYCCD-QUARCS/guidelink/internal/infrastructure/tracing"
	"github.com/QHYCCD-QUARCS/guidelink/internal/mount"
	"github.com/QHYCCD-QUARCS/guidelink/internal/phdtest"
	"github.com/QHYCCD-QUARCS/guidelink/internal/protocol"
	"github.com/QHYCCD-QUARCS/guidelink/internal/relay"
	"github.com/QHYCCD-QUARCS/guidelink/internal/telemetry"
)

type fixture struct {
	ch        *channel.Channel
	responder *phdtest.Responder
	client    *command.Client
	relay     *relay.Relay
	mount     *mount.DryRun
	svc       *Service
	slept     []time.Duration
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	ch := phdtest.NewMemoryChannel()
	f := &fixture{ch: ch, responder: phdtest.Start(ch)}
	t.Cleanup(f.responder.Close)

	f.client = command.New(ch, command.Options{Timeout: 20 * time.Millisecond})
	f.mount = mount.NewDryRun(nil, 0)
	f.relay = relay.New(ch, f.mount, f.client, relay.Options{Interval: time.Millisecond})
	f.svc = New(f.client, telemetry.NewReader(ch), f.relay, telemetry.LoopOptions{Interval: time.Millisecond}, opts)
	f.svc.sleep = func(_ context.Context, d time.Duration) error {
		f.slept = append(f.slept, d)
		return nil
	}
	return f
}

func (f *fixture) frame(t *testing.T, mutate func(*phdtest.Frame)) *telemetry.Sample {
	t.Helper()
	fr := phdtest.Frame{
		Width:      640,
		Height:     480,
		BitDepth:   8,
		RaOffset:   0.5,
		DecOffset:  -0.25,
		PixelScale: 2,
		InGuiding:  true,
	}
	if mutate != nil {
		mutate(&fr)
	}
	require.NoError(t, phdtest.WriteFrame(f.ch, fr))
	s, err := f.svc.Loop().Step()
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

func TestToggleGuidingStartWithoutStar(t *testing.T) {
	f := newFixture(t, Options{})

	on, err := f.svc.ToggleGuiding()
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, f.svc.Guiding())
	assert.True(t, f.svc.Looping())
	assert.Equal(t, []protocol.Opcode{protocol.OpAutoFindStar, protocol.OpStartGuiding}, f.responder.Ops())
}

func TestToggleGuidingStartWithPendingClear(t *testing.T) {
	f := newFixture(t, Options{})
	f.frame(t, func(fr *phdtest.Frame) { fr.Selected = true })
	f.svc.RequestCalibrationClear()

	_, err := f.svc.ToggleGuiding()
	require.NoError(t, err)
	assert.Equal(t, []protocol.Opcode{protocol.OpClearCalibration, protocol.OpStartGuiding}, f.responder.Ops())

	// The request is consumed.
	_, err = f.svc.ToggleGuiding()
	require.NoError(t, err)
	_, err = f.svc.ToggleGuiding()
	require.NoError(t, err)
	assert.Equal(t, 1, f.responder.Count(protocol.OpClearCalibration))
}

func TestToggleGuidingStop(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.svc.ToggleGuiding()
	require.NoError(t, err)

	on, err := f.svc.ToggleGuiding()
	require.NoError(t, err)
	assert.False(t, on)
	assert.False(t, f.svc.Guiding())
	assert.False(t, f.svc.Looping())
	assert.Equal(t, protocol.OpStopLooping, f.responder.Ops()[2])
}

func TestToggleGuidingFailureKeepsState(t *testing.T) {
	f := newFixture(t, Options{})
	f.responder.SetSilent(true)

	on, err := f.svc.ToggleGuiding()
	assert.ErrorIs(t, err, protocol.ErrTimeout)
	assert.False(t, on)
	assert.False(t, f.svc.Guiding())
}

func TestToggleLooping(t *testing.T) {
	f := newFixture(t, Options{})

	on, err := f.svc.ToggleLooping()
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, f.svc.Looping())
	assert.False(t, f.svc.Guiding())

	_, err = f.svc.ToggleGuiding()
	require.NoError(t, err)

	on, err = f.svc.ToggleLooping()
	require.NoError(t, err)
	assert.False(t, on)
	assert.False(t, f.svc.Looping())
	assert.False(t, f.svc.Guiding())

	assert.Equal(t, []protocol.Opcode{
		protocol.OpStartLooping,
		protocol.OpAutoFindStar,
		protocol.OpStartGuiding,
		protocol.OpStopLooping,
	}, f.responder.Ops())
}

func TestRecalibrate(t *testing.T) {
	f := newFixture(t, Options{})
	f.frame(t, nil)
	require.Equal(t, 1, f.svc.History().Len())

	require.NoError(t, f.svc.Recalibrate(context.Background()))

	assert.Equal(t, []protocol.Opcode{
		protocol.OpClearCalibration,
		protocol.OpStartLooping,
		protocol.OpAutoFindStar,
		protocol.OpStartGuiding,
	}, f.responder.Ops())
	assert.Equal(t, []time.Duration{DefaultSettleDelay}, f.slept)
	assert.True(t, f.svc.Guiding())
	assert.Zero(t, f.svc.History().Len())
}

func TestRecalibrateCancelled(t *testing.T) {
	f := newFixture(t, Options{SettleDelay: time.Minute})
	f.svc.sleep = sleepContext

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.svc.Recalibrate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []protocol.Opcode{protocol.OpClearCalibration, protocol.OpStartLooping}, f.responder.Ops())
	assert.False(t, f.svc.Guiding())
}

func TestRecalibrateTraced(t *testing.T) {
	tracer := tracing.New("guidelink", nil)
	f := newFixture(t, Options{Tracer: tracer})
	f.responder.SetSilent(true)

	err := f.svc.Recalibrate(context.Background())
	require.ErrorIs(t, err, protocol.ErrTimeout)
	tracer.Close()

	spans := tracer.Recent()
	require.Len(t, spans, 2)
	step, root := spans[0], spans[1]
	assert.Equal(t, "clear calibration", step.Name)
	assert.Equal(t, "recalibrate", root.Name)
	assert.Equal(t, root.TraceID, step.TraceID)
	assert.Equal(t, root.SpanID, step.ParentID)
	assert.NotEmpty(t, step.Error)
	assert.NotEmpty(t, root.Error)
}

func TestClickCanvas(t *testing.T) {
	f := newFixture(t, Options{})

	assert.ErrorIs(t, f.svc.ClickCanvas(1280, 960, 10, 10), ErrNoFrame)
	assert.ErrorIs(t, f.svc.ClickCanvas(0, 960, 10, 10), ErrInvalidCanvas)

	f.frame(t, nil)
	require.NoError(t, f.svc.ClickCanvas(1280, 960, 641, 363))

	reqs := f.responder.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, protocol.OpStarClick, reqs[0].Op)
	assert.Equal(t, protocol.EncodeI32Pair(320, 181), reqs[0].Payload[:8])
}

func TestScaleClick(t *testing.T) {
	tests := []struct {
		name                         string
		canvasW, canvasH, imgW, imgH int
		x, y                         int
		wantX, wantY                 int32
	}{
		{"same size", 640, 480, 640, 480, 100, 200, 100, 200},
		{"canvas larger", 1280, 960, 640, 480, 641, 363, 320, 181},
		{"canvas smaller", 320, 240, 1280, 960, 10, 5, 40, 20},
		{"uneven", 300, 200, 1000, 1000, 1, 1, 3, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y := ScaleClick(tt.canvasW, tt.canvasH, tt.imgW, tt.imgH, tt.x, tt.y)
			assert.Equal(t, tt.wantX, x)
			assert.Equal(t, tt.wantY, y)
		})
	}
}

func TestSampleFeedsHistoryAndStatus(t *testing.T) {
	f := newFixture(t, Options{ProbeStatus: true})
	f.responder.Handle(protocol.OpCheckStatus, func([]byte) []byte { return []byte{2} })

	s := f.frame(t, func(fr *phdtest.Frame) {
		fr.Selected = true
		fr.StarLost = true
	})

	assert.Equal(t, []telemetry.Point{{X: -1, Y: -0.5}}, f.svc.History().Points())
	assert.Equal(t, 1, f.responder.Count(protocol.OpCheckStatus))

	st := f.svc.Status()
	require.NotNil(t, st.GuiderStatus)
	assert.Equal(t, uint8(2), *st.GuiderStatus)
	assert.Empty(t, st.StatusError)
	assert.Equal(t, "guiding", st.Phase)
	assert.True(t, st.LockSelected)
	assert.True(t, st.StarLostAlert)
	assert.Equal(t, s.ID, st.LastFrameID)
	assert.Equal(t, "closed", st.Breaker)
	assert.Equal(t, 1, st.History.Count)

	f.svc.ClearHistory()
	assert.Zero(t, f.svc.History().Len())
}

func TestStatusProbeFailure(t *testing.T) {
	f := newFixture(t, Options{ProbeStatus: true})
	f.responder.SetSilent(true)

	f.frame(t, nil)

	st := f.svc.Status()
	assert.Nil(t, st.GuiderStatus)
	assert.Contains(t, st.StatusError, "timeout")
}

func TestNoProbeByDefault(t *testing.T) {
	f := newFixture(t, Options{})
	f.frame(t, nil)
	assert.Zero(t, f.responder.Count(protocol.OpCheckStatus))
}

func TestSettingsPassThrough(t *testing.T) {
	f := newFixture(t, Options{})

	require.NoError(t, f.svc.SetExposure(2000))
	require.NoError(t, f.svc.SelectCamera("QHY5III462"))
	require.NoError(t, f.svc.SetFocalLength(240))
	require.NoError(t, f.svc.SetMultiStar(true))
	require.NoError(t, f.svc.SetPixelSize(2.9))
	require.NoError(t, f.svc.SetGain(20))
	require.NoError(t, f.svc.SetCalibrationStep(500))
	require.NoError(t, f.svc.SetRaAggression(70))
	require.NoError(t, f.svc.SetDecAggression(90))

	assert.Equal(t, []protocol.Opcode{
		protocol.OpSetExposureTime,
		protocol.OpSelectCamera,
		protocol.OpSetFocalLength,
		protocol.OpSetMultiStar,
		protocol.OpSetPixelSize,
		protocol.OpSetGain,
		protocol.OpSetCalibrationStep,
		protocol.OpSetRaAggression,
		protocol.OpSetDecAggression,
	}, f.responder.Ops())
}

func TestMeridianFlip(t *testing.T) {
	f := newFixture(t, Options{})

	f.svc.SetMeridianFlip(true)
	assert.True(t, f.relay.MeridianFlip())
	assert.True(t, f.svc.Status().MeridianFlip)
}

func TestRunRelaysPulses(t *testing.T) {
	f := newFixture(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.svc.Run(ctx) }()

	require.NoError(t, phdtest.PostInstruction(f.ch, 9, uint16(mount.East), 120))
	require.NoError(t, phdtest.WriteFrame(f.ch, phdtest.Frame{Width: 8, Height: 8, BitDepth: 8}))

	assert.Eventually(t, func() bool {
		return len(f.mount.Pulses()) == 1 && f.svc.Loop().Latest() != nil
	}, 2*time.Second, time.Millisecond)

	pulse := f.mount.Pulses()[0]
	assert.Equal(t, mount.East, pulse.Direction)
	assert.Equal(t, 120, pulse.DurationMs)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestBreakerChanged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	f := newFixture(t, Options{Logger: zap.New(core)})

	f.svc.BreakerChanged(resilience.StateClosed, resilience.StateOpen)
	f.svc.BreakerChanged(resilience.StateOpen, resilience.StateHalfOpen)
	f.svc.BreakerChanged(resilience.StateHalfOpen, resilience.StateClosed)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
}
