package dialer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/power-dialer/internal/domain"
	"github.com/acme/power-dialer/internal/metrics"
	"github.com/acme/power-dialer/internal/telephony"
	apperrors "github.com/acme/power-dialer/pkg/errors"
)

const saveNoteWarning = "failed to save note, call continues"

// continueDialing forms the next batch when allowed and detects completion.
func (r *Run) continueDialing(ctx context.Context) {
	if r.status != domain.RunStatusRunning {
		return
	}
	r.formBatch(ctx)
	r.checkCompletion()
}

// formBatch fills idle lines from the queue. Nothing happens unless the run is
// running, the gate is clear, no earlier attempt is still in flight and
// contacts are waiting.
func (r *Run) formBatch(ctx context.Context) {
	if r.forming || r.status != domain.RunStatusRunning || r.gate.IsSet() || r.queue.IsEmpty() {
		return
	}
	if r.anyInFlight() {
		return
	}
	avail := r.pool.Available()
	size := min(len(avail), r.queue.Len(), r.pool.Size())
	if size == 0 {
		return
	}

	r.forming = true
	defer func() { r.forming = false }()

	r.batches++
	batch := r.batches
	ctx, span := r.tracer.Start(ctx, "dialer.batch", trace.WithAttributes(
		attribute.String("run_id", r.id.String()),
		attribute.Int("batch", batch),
		attribute.Int("size", size),
	))
	defer span.End()
	metrics.BatchesFormed.Inc()

	now := r.deps.Clock.Now()
	placed := 0
	for i, contact := range r.queue.Dequeue(size) {
		slot := avail[i]
		callerID, err := r.callerIDs.Assign(slot)
		if err != nil {
			span.RecordError(err)
			r.log.Error("caller-id assignment failed", zap.Int("slot", slot), zap.Error(err))
			r.queue.Requeue(contact)
			continue
		}

		occ := Occupancy{
			Contact:   contact,
			Phone:     contact.DialNumber(),
			CallerID:  callerID,
			AttemptID: uuid.New(),
			Batch:     batch,
			StartedAt: now,
		}
		if err := r.pool.Occupy(slot, occ); err != nil {
			r.violation(slot, err)
			r.queue.Requeue(contact)
			continue
		}
		line, _ := r.pool.Line(slot)
		r.publish(ctx, line, "")

		handle, err := r.deps.Signaler.PlaceCall(ctx, telephony.Attempt{
			ID:       occ.AttemptID,
			RunID:    r.id,
			Batch:    batch,
			Slot:     slot,
			Contact:  contact.Clone(),
			Phone:    occ.Phone,
			CallerID: callerID,
		}, r.deliver)
		if err != nil {
			span.RecordError(err)
			r.log.Warn("call setup failed",
				zap.Int("slot", slot),
				zap.String("contact_id", contact.ID.String()),
				zap.Error(err),
			)
			r.finish(ctx, line, domain.LineStatusFailed, err.Error())
			continue
		}
		line.Handle = handle
		placed++
	}

	r.log.Info("batch formed",
		zap.Int("batch", batch),
		zap.Int("size", size),
		zap.Int("placed", placed),
		zap.Int("queued", r.queue.Len()),
	)

	// Every attempt failed at setup; back off rather than spinning through
	// the queue.
	if placed == 0 && !r.queue.IsEmpty() {
		r.armRetry()
	}
}

// handleEvent applies one call-progress signal. Events for attempts no
// longer on a line are ignored.
func (r *Run) handleEvent(ctx context.Context, ev telephony.Event) {
	if r.pool == nil || r.status.Terminal() {
		return
	}
	line, ok := r.pool.ByAttempt(ev.AttemptID)
	if !ok {
		r.log.Debug("stale call event ignored",
			zap.String("attempt_id", ev.AttemptID.String()),
			zap.String("event", string(ev.Type)),
		)
		return
	}

	switch ev.Type {
	case telephony.EventRinging:
		if line.Status == domain.LineStatusDialing {
			line.Status = domain.LineStatusRinging
			r.publish(ctx, line, "")
		}
	case telephony.EventAnswered:
		if !line.Status.InFlight() {
			return
		}
		if r.gate.IsSet() {
			r.hangupHandle(ctx, line.Handle)
			r.conclude(ctx, line, domain.LineStatusNoAnswer, "operator busy")
			return
		}
		r.connect(ctx, line)
	case telephony.EventNoAnswer, telephony.EventBusy, telephony.EventVoicemail, telephony.EventFailed:
		if !line.Status.InFlight() {
			return
		}
		r.conclude(ctx, line, outcomeStatus(ev.Type), ev.Reason)
	case telephony.EventEnded:
		switch {
		case line.Status == domain.LineStatusConnected:
			line.Status = domain.LineStatusEnded
			line.EndedAt = r.deps.Clock.Now()
			r.publish(ctx, line, "remote hangup")
		case line.Status.InFlight():
			r.conclude(ctx, line, domain.LineStatusFailed, "ended before answer")
		}
	default:
		r.log.Warn("unknown call event", zap.String("event", string(ev.Type)))
	}
}

// connect surfaces line to the operator, latches the gate and drops the rest
// of its batch.
func (r *Run) connect(ctx context.Context, line *Line) {
	if err := r.gate.Set(line.Slot); err != nil {
		r.violation(line.Slot, err)
		return
	}
	line.Status = domain.LineStatusConnected
	line.ConnectedAt = r.deps.Clock.Now()
	line.Script = r.render(*line.Contact)
	metrics.AttemptOutcomes.WithLabelValues(string(domain.LineStatusConnected)).Inc()
	r.publish(ctx, line, "")

	r.log.Info("line connected",
		zap.Int("slot", line.Slot),
		zap.Int("batch", line.Batch),
		zap.String("contact_id", line.Contact.ID.String()),
	)

	for _, other := range r.pool.Lines() {
		if other.Slot == line.Slot || other.Batch != line.Batch || !other.Status.InFlight() {
			continue
		}
		r.hangupHandle(ctx, other.Handle)
		r.finish(ctx, other, domain.LineStatusNoAnswer, "answered on another line")
	}
}

// conclude finishes an in-flight line and continues once its batch has
// settled.
func (r *Run) conclude(ctx context.Context, line *Line, status domain.LineStatus, reason string) {
	batch := line.Batch
	r.finish(ctx, line, status, reason)
	if !r.batchInFlight(batch) {
		r.continueDialing(ctx)
	}
}

// finish moves line to a non-connected terminal status, releases it and
// returns its contact to the queue unless the attempt ceiling was reached.
func (r *Run) finish(ctx context.Context, line *Line, status domain.LineStatus, reason string) {
	now := r.deps.Clock.Now()
	line.Status = status
	line.EndedAt = now
	metrics.AttemptOutcomes.WithLabelValues(string(status)).Inc()

	held, err := r.pool.Release(line.Slot)
	if err != nil {
		r.violation(line.Slot, err)
		return
	}

	contact := *held.Contact
	if r.cfg.MaxAttempts > 0 && contact.DialAttempts+1 >= r.cfg.MaxAttempts {
		contact = Attempted(contact, now)
		r.exhausted++
		r.log.Info("contact exhausted",
			zap.String("contact_id", contact.ID.String()),
			zap.Int("attempts", contact.DialAttempts),
		)
	} else {
		contact = r.queue.Requeue(contact)
	}
	held.Contact = &contact
	r.publish(ctx, &held, reason)

	pctx, cancel := r.persistCtx(ctx)
	defer cancel()
	if err := r.deps.Contacts.MarkAttempt(pctx, contact.ID, now); err != nil {
		err = fmt.Errorf("%w: mark attempt: %w", apperrors.ErrPersistence, err)
		metrics.PersistenceFailures.WithLabelValues("mark_attempt").Inc()
		r.warn(fmt.Sprintf("failed to record attempt for %s", contactLabel(contact)),
			zap.String("contact_id", contact.ID.String()),
			zap.Error(err),
		)
	}
}

func (r *Run) hangupLine(ctx context.Context, slot int) (domain.LineSnapshot, error) {
	if r.pool == nil {
		return domain.LineSnapshot{}, r.rejectf("hang up", "no lines are allocated")
	}
	line, err := r.pool.Line(slot)
	if err != nil {
		return domain.LineSnapshot{}, err
	}
	if line.Status != domain.LineStatusConnected {
		return domain.LineSnapshot{}, fmt.Errorf("%w: line %d is %s, only a connected call can be hung up", apperrors.ErrInvalidTransition, slot, line.Status)
	}
	r.hangupHandle(ctx, line.Handle)
	line.Status = domain.LineStatusEnded
	line.EndedAt = r.deps.Clock.Now()
	r.publish(ctx, line, "operator hangup")
	return line.Snapshot(), nil
}

func (r *Run) resolve(ctx context.Context, slot int, tag domain.DispositionTag, notes string) (ResolveResult, error) {
	if !tag.Valid() {
		return ResolveResult{}, fmt.Errorf("%w: unknown disposition %q", apperrors.ErrValidation, tag)
	}
	if r.pool == nil {
		return ResolveResult{}, r.rejectf("resolve", "no lines are allocated")
	}
	line, err := r.pool.Line(slot)
	if err != nil {
		return ResolveResult{}, err
	}
	if !line.Status.AwaitingDisposition() {
		return ResolveResult{}, fmt.Errorf("%w: line %d is %s, nothing to resolve", apperrors.ErrInvalidTransition, slot, line.Status)
	}

	ctx, span := r.tracer.Start(ctx, "dialer.resolve", trace.WithAttributes(
		attribute.String("run_id", r.id.String()),
		attribute.Int("slot", slot),
		attribute.String("tag", string(tag)),
	))
	defer span.End()

	now := r.deps.Clock.Now()
	if line.Status == domain.LineStatusConnected {
		r.hangupHandle(ctx, line.Handle)
		line.EndedAt = now
	}

	snap := line.Snapshot()
	disposition := domain.Disposition{
		ID:         uuid.New(),
		RunID:      r.id,
		ListID:     r.listID,
		ContactID:  line.Contact.ID,
		Tag:        tag,
		Notes:      notes,
		CallerID:   line.CallerID,
		Line:       snap,
		ResolvedAt: now,
	}
	res := ResolveResult{Line: snap, Disposition: disposition}

	pctx, cancel := r.persistCtx(ctx)
	err = r.deps.Dispositions.RecordDisposition(pctx, disposition)
	cancel()
	if err != nil {
		err = fmt.Errorf("%w: record disposition: %w", apperrors.ErrPersistence, err)
		span.RecordError(err)
		metrics.PersistenceFailures.WithLabelValues("record_disposition").Inc()
		r.warn(saveNoteWarning,
			zap.Int("slot", slot),
			zap.String("contact_id", disposition.ContactID.String()),
			zap.Error(err),
		)
		res.Warning = saveNoteWarning
		res.SaveErr = err
	}
	metrics.Dispositions.WithLabelValues(string(tag)).Inc()

	held, err := r.pool.Release(slot)
	if err != nil {
		r.violation(slot, err)
	} else {
		held.Status = domain.LineStatusIdle
		r.publish(ctx, &held, "resolved: "+string(tag))
	}
	r.gate.Clear()

	r.log.Info("line resolved",
		zap.Int("slot", slot),
		zap.String("tag", string(tag)),
		zap.Bool("saved", res.Warning == ""),
	)

	r.continueDialing(ctx)
	return res, nil
}

// violation handles an internal bookkeeping error. Strict mode panics; otherwise
// the affected line is force-released.
func (r *Run) violation(slot int, err error) {
	metrics.InvariantViolations.Inc()
	if r.cfg.StrictInvariants {
		panic(err)
	}
	r.log.Error("invariant violation, releasing line", zap.Int("slot", slot), zap.Error(err))

	if line, lerr := r.pool.Line(slot); lerr == nil && line.Status != domain.LineStatusIdle {
		r.hangupHandle(context.Background(), line.Handle)
		_, _ = r.pool.Release(slot)
	}
	if holder, ok := r.gate.Holder(); ok && holder == slot {
		r.gate.Clear()
	}
}

func (r *Run) checkCompletion() {
	if r.status != domain.RunStatusRunning || !r.queue.IsEmpty() || r.pool.Occupied() > 0 {
		return
	}
	r.complete()
}

func (r *Run) anyInFlight() bool {
	for _, l := range r.pool.Lines() {
		if l.Status.InFlight() {
			return true
		}
	}
	return false
}

func (r *Run) batchInFlight(batch int) bool {
	for _, l := range r.pool.Lines() {
		if l.Batch == batch && l.Status.InFlight() {
			return true
		}
	}
	return false
}

func (r *Run) armRetry() {
	if r.retry != nil {
		return
	}
	r.log.Debug("no call placed, retrying batch", zap.Duration("delay", r.cfg.SetupRetryDelay))
	r.retry = r.deps.Clock.AfterFunc(r.cfg.SetupRetryDelay, func() {
		r.post(func() {
			r.retry = nil
			r.continueDialing(context.Background())
		})
	})
}

func (r *Run) cancelRetry() {
	if r.retry != nil {
		r.retry.Stop()
		r.retry = nil
	}
}

func (r *Run) hangupHandle(ctx context.Context, h telephony.Handle) {
	if h.AttemptID == uuid.Nil {
		return
	}
	hctx, cancel := r.persistCtx(ctx)
	defer cancel()
	if err := r.deps.Signaler.Hangup(hctx, h); err != nil {
		r.log.Warn("hangup failed", zap.String("attempt_id", h.AttemptID.String()), zap.Error(err))
	}
}

func (r *Run) render(contact domain.Contact) string {
	if r.deps.Renderer == nil || r.script == "" {
		return r.script
	}
	text, err := r.deps.Renderer.Render(r.script, contact)
	if err != nil {
		r.log.Warn("script render failed", zap.String("contact_id", contact.ID.String()), zap.Error(err))
		return r.script
	}
	return text
}

func (r *Run) publish(ctx context.Context, l *Line, reason string) {
	if r.deps.Events == nil || l.Contact == nil {
		return
	}
	ev := domain.LineEvent{
		RunID:      r.id,
		ListID:     r.listID,
		AttemptID:  l.AttemptID,
		ContactID:  l.Contact.ID,
		Slot:       l.Slot,
		Batch:      l.Batch,
		Status:     l.Status,
		CallerID:   l.CallerID,
		Phone:      l.Phone,
		Attempts:   l.Contact.DialAttempts,
		Reason:     reason,
		OccurredAt: r.deps.Clock.Now(),
	}
	pctx, cancel := r.persistCtx(ctx)
	defer cancel()
	if err := r.deps.Events.PublishLineEvent(pctx, ev); err != nil {
		metrics.PersistenceFailures.WithLabelValues("publish_event").Inc()
		r.log.Warn("publish line event failed", zap.String("attempt_id", l.AttemptID.String()), zap.Error(err))
	}
}

func outcomeStatus(t telephony.EventType) domain.LineStatus {
	switch t {
	case telephony.EventBusy:
		return domain.LineStatusBusy
	case telephony.EventVoicemail:
		return domain.LineStatusVoicemail
	case telephony.EventFailed:
		return domain.LineStatusFailed
	default:
		return domain.LineStatusNoAnswer
	}
}

func contactLabel(c domain.Contact) string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID.String()
}
