package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/foxzi/prospector/internal/dispatch"
	"github.com/foxzi/prospector/internal/events"
	"github.com/foxzi/prospector/internal/models"
	"github.com/foxzi/prospector/internal/phone"
	"github.com/foxzi/prospector/internal/repository"
	"github.com/foxzi/prospector/internal/scheduler"
)

// Config configures the loops
type Config struct {
	IdleInterval time.Duration
	ActionMin    time.Duration
	ActionMax    time.Duration
	PollInterval time.Duration
	CheckNumbers bool
	// WriteTimeout bounds state writes made after the loop was cancelled
	WriteTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.IdleInterval <= 0 {
		c.IdleInterval = 25 * time.Second
	}
	if c.ActionMax < c.ActionMin {
		c.ActionMax = c.ActionMin
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// Deps are the collaborators of a loop. Numbers, Quota, Events and
// Observer are optional.
type Deps struct {
	Campaigns  CampaignStore
	Links      LinkStore
	Personas   PersonaStore
	Users      UserStore
	Scheduler  Scheduler
	Sync       Synchronizer
	Decider    Decider
	Dispatcher Dispatcher
	Numbers    NumberChecker
	Quota      OpeningQuota
	Events     events.Publisher
	Observer   Observer
}

func (d *Deps) setDefaults() {
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Observer == nil {
		d.Observer = nopObserver{}
	}
}

var errUserMissing = errors.New("campaign owner not found")

// loop processes one campaign, one link at a time
type loop struct {
	campaignID string
	deps       *Deps
	cfg        Config
	wake       <-chan struct{}
	logger     *slog.Logger
	randN      func(n int64) int64
}

func newLoop(campaignID string, deps *Deps, cfg Config, wake <-chan struct{}, logger *slog.Logger) *loop {
	return &loop{
		campaignID: campaignID,
		deps:       deps,
		cfg:        cfg,
		wake:       wake,
		logger:     logger.With("campaign_id", campaignID),
		randN:      rand.Int64N,
	}
}

// writeContext returns a context for state writes that must happen even
// when ctx was cancelled.
func (l *loop) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), l.cfg.WriteTimeout)
}

// log appends a line to the campaign log. A status is applied only while
// the campaign is still running.
func (l *loop) log(ctx context.Context, line string, status *models.CampaignStatus) {
	wctx, cancel := l.writeContext(ctx)
	defer cancel()

	var err error
	if status != nil {
		err = l.deps.Campaigns.TransitionFromRunning(wctx, l.campaignID, line, *status)
	} else {
		err = l.deps.Campaigns.AppendLog(wctx, l.campaignID, line, nil)
	}
	if err != nil {
		l.logger.Error("failed to append campaign log", "error", err)
	}
}

// sleep waits for d, an early wake-up or cancellation
func (l *loop) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-l.wake:
	case <-timer.C:
	}
}

func (l *loop) between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(l.randN(int64(hi-lo)+1))
}

// run cycles until the campaign stops running or ctx is cancelled. A loop
// that ends for any other reason while the campaign is still running
// leaves it Paused.
func (l *loop) run(ctx context.Context) {
	l.logger.Info("campaign loop started")
	l.log(ctx, "-> Agente iniciado.", nil)

	err := l.cycleSafely(ctx)

	switch {
	case ctx.Err() != nil:
		l.logger.Info("campaign loop stopped by shutdown")
	case err != nil:
		l.logger.Error("campaign loop failed", "error", err)
		failed := models.CampaignFailed
		l.log(ctx, fmt.Sprintf("ERRO CRÍTICO no ciclo do agente: %v", err), &failed)
	default:
		l.logger.Info("campaign loop finished")
	}
	l.pauseIfStillRunning(ctx)
}

func (l *loop) pauseIfStillRunning(ctx context.Context) {
	if ctx.Err() != nil {
		// shutdown: the next process resumes the campaign
		return
	}
	wctx, cancel := l.writeContext(ctx)
	defer cancel()

	c, err := l.deps.Campaigns.GetByID(wctx, l.campaignID)
	if err != nil || c == nil || !c.Running() {
		return
	}
	paused := models.CampaignPaused
	l.log(ctx, "-> Agente finalizado inesperadamente.", &paused)
}

func (l *loop) cycleSafely(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.cycles(ctx)
}

func (l *loop) cycles(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		campaign, err := l.deps.Campaigns.GetByID(ctx, l.campaignID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("load campaign: %w", err)
		}
		if campaign == nil || !campaign.Running() {
			l.log(ctx, "-> Campanha parada ou não encontrada. Finalizando agente.", nil)
			return nil
		}

		res, err := l.deps.Scheduler.Next(ctx, campaign)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("schedule: %w", err)
		}

		if res.Idle() {
			done, err := l.idle(ctx, res)
			if err != nil || done {
				return err
			}
			continue
		}

		if hold := l.process(ctx, campaign, res.Task); hold > 0 {
			l.sleep(ctx, hold)
			continue
		}
		l.sleep(ctx, l.between(l.cfg.ActionMin, l.cfg.ActionMax))
	}
}

// idle completes the campaign when nothing is left open, otherwise waits
func (l *loop) idle(ctx context.Context, res scheduler.Result) (bool, error) {
	open, err := l.deps.Links.CountOpen(ctx, l.campaignID)
	if err != nil {
		if ctx.Err() != nil {
			return true, nil
		}
		return true, fmt.Errorf("count open links: %w", err)
	}
	if open == 0 {
		completed := models.CampaignCompleted
		l.log(ctx, "-> Todos os contatos foram finalizados. Campanha concluída.", &completed)
		l.logger.Info("campaign completed")
		return true, nil
	}

	wait := l.cfg.IdleInterval
	if res.Wait > 0 && res.Wait < wait {
		wait = res.Wait
	}
	if res.Wait > 0 {
		l.log(ctx, fmt.Sprintf("-> Intervalo para novas conversas ativo. Aguardando aprox. %ds.", int(res.Wait.Seconds())), nil)
	} else {
		l.logger.Debug("nothing to do", "open", open)
	}
	l.sleep(ctx, wait)
	return false, nil
}

// openingAllowed spends one unit of the opening quota of the campaign's
// channel. When the quota is exhausted it returns how long to hold before
// the next cycle, which still serves replies and follow-ups first. A failing
// quota store lets the opening through.
func (l *loop) openingAllowed(ctx context.Context, campaign *models.Campaign) (time.Duration, bool) {
	if l.deps.Quota == nil {
		return 0, true
	}
	res, err := l.deps.Quota.Allow(ctx, campaign.UserID)
	if err != nil {
		l.logger.Warn("opening quota check failed", "error", err)
		return 0, true
	}
	if res.Allowed {
		return 0, true
	}

	wait := l.cfg.IdleInterval
	if res.RetryAfter > 0 && res.RetryAfter < wait {
		wait = res.RetryAfter
	}
	l.logger.Info("opening quota exhausted", "denied_by", res.DeniedBy, "retry_after", res.RetryAfter)
	l.log(ctx, fmt.Sprintf("-> Limite de novas conversas atingido (%s). Próxima abertura em aprox. %ds.", res.DeniedBy, int(res.RetryAfter.Seconds())), nil)
	return wait, false
}

var modeReasons = map[models.Mode]string{
	models.ModeReply:    "Resposta recebida",
	models.ModeFollowup: "Follow-up",
	models.ModeInitial:  "Mensagem inicial",
}

// process runs one task. Any failure or panic turns into AIError on that
// link only, except a shutdown which restores the previous status. A
// positive return is how long the loop should hold before its next cycle.
func (l *loop) process(ctx context.Context, campaign *models.Campaign, task *scheduler.Task) time.Duration {
	link := task.Link
	logger := l.logger.With("link_id", link.ID, "contact_id", link.ContactID, "mode", task.Mode)
	start := time.Now()

	if err := l.deps.Links.SetProcessing(ctx, link.ID); err != nil {
		logger.Error("failed to mark link as processing", "error", err)
		return 0
	}
	l.log(ctx, fmt.Sprintf("-> Contato selecionado: '%s'. Motivo: %s.", link.Contact.Name, modeReasons[task.Mode]), nil)

	var (
		out outcome
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		out, err = l.handle(ctx, campaign, task, logger)
	}()

	switch {
	case err != nil && ctx.Err() != nil:
		logger.Info("interrupted by shutdown, restoring status", "situacao", link.Situacao)
		out = outcome{Outcome: repository.Outcome{Situacao: link.Situacao}}
	case errors.Is(err, errUserMissing):
		out = outcome{Outcome: repository.Outcome{Situacao: link.Situacao}}
		failed := models.CampaignFailed
		l.log(ctx, "ERRO: Usuário não encontrado. Finalizando agente.", &failed)
	case err != nil:
		logger.Error("link processing failed", "error", err)
		obs := fmt.Sprintf("Erro no processamento: %v", err)
		out.Outcome = repository.Outcome{Situacao: models.SituacaoAIError, Observations: &obs}
		l.log(ctx, fmt.Sprintf("ERRO ao processar contato '%s': %v", link.Contact.Name, err), nil)
	}

	wctx, cancel := l.writeContext(ctx)
	defer cancel()
	if err := l.deps.Links.ApplyOutcome(wctx, link.ID, out.Outcome); err != nil {
		logger.Error("failed to apply outcome", "error", err)
		return out.hold
	}

	if ctx.Err() != nil || out.hold > 0 {
		return out.hold
	}
	l.deps.Observer.LinkProcessed(task.Mode, out.Situacao, time.Since(start))
	l.publish(wctx, campaign, task, out)
	l.log(ctx, fmt.Sprintf("-> Ação para '%s' concluída. Situação: %s.", link.Contact.Name, out.Situacao.Label()), nil)
	logger.Info("link processed", "situacao", out.Situacao, "sent", out.sent, "duration", time.Since(start))
	return 0
}

func (l *loop) publish(ctx context.Context, campaign *models.Campaign, task *scheduler.Task, out outcome) {
	o := &events.Outcome{
		CampaignID:   campaign.ID,
		LinkID:       task.Link.ID,
		ContactID:    task.Link.ContactID,
		Phone:        task.Link.Contact.Phone,
		Mode:         string(task.Mode),
		Situacao:     string(out.Situacao),
		MessagesSent: out.sent,
		At:           time.Now().UTC(),
	}
	if out.Observations != nil {
		o.Observation = *out.Observations
	}
	if err := l.deps.Events.Publish(ctx, o); err != nil {
		l.logger.Warn("failed to publish outcome", "link_id", task.Link.ID, "error", err)
	}
}

// outcome is a repository outcome plus what the cycle sent. hold is set
// when the task was put back untouched.
type outcome struct {
	repository.Outcome
	sent int
	hold time.Duration
}

func withObservation(o *repository.Outcome, obs string) {
	if obs != "" {
		o.Observations = &obs
	}
}

func (l *loop) handle(ctx context.Context, campaign *models.Campaign, task *scheduler.Task, logger *slog.Logger) (outcome, error) {
	link := task.Link

	var persona *models.Persona
	if campaign.PersonaID != "" {
		p, err := l.deps.Personas.GetByID(ctx, campaign.PersonaID)
		if err != nil {
			return outcome{}, fmt.Errorf("load persona: %w", err)
		}
		persona = p
	}
	if persona == nil {
		l.log(ctx, fmt.Sprintf("ERRO: Persona não encontrada para o contato '%s'. Pulando.", link.Contact.Name), nil)
		obs := "Persona não encontrada para a campanha"
		return outcome{Outcome: repository.Outcome{Situacao: models.SituacaoMissingPersonaError, Observations: &obs}}, nil
	}

	user, err := l.deps.Users.GetByID(ctx, campaign.UserID)
	if err != nil {
		return outcome{}, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return outcome{}, errUserMissing
	}
	instance := user.InstanceName

	if task.Mode == models.ModeInitial && l.cfg.CheckNumbers && l.deps.Numbers != nil {
		if ok := l.onChannel(ctx, instance, link, logger); !ok {
			obs := "Número não possui WhatsApp"
			return outcome{Outcome: repository.Outcome{Situacao: models.SituacaoNoWhatsApp, Observations: &obs}}, nil
		}
	}

	if task.Mode == models.ModeInitial {
		if wait, ok := l.openingAllowed(ctx, campaign); !ok {
			return outcome{Outcome: repository.Outcome{Situacao: link.Situacao}, hold: wait}, nil
		}
	}

	history, err := l.deps.Sync.Sync(ctx, instance, link, persona.Context)
	if err != nil {
		return outcome{}, fmt.Errorf("sync history: %w", err)
	}
	l.log(ctx, fmt.Sprintf("   - Histórico sincronizado. Total de %d mensagens.", len(history)), nil)

	if task.Mode == models.ModeReply {
		if last := history.Last(); last == nil || last.Role != models.RoleUser {
			l.log(ctx, fmt.Sprintf("   - Sincronização detectou que já respondemos '%s'. Atualizando status.", link.Contact.Name), nil)
			return outcome{Outcome: repository.Outcome{
				Situacao:     models.SituacaoAwaitingResponse,
				Conversation: &history,
			}}, nil
		}
	}

	d, err := l.deps.Decider.Decide(ctx, persona, &link.Contact, history, task.Mode)
	if err != nil {
		if ctx.Err() != nil {
			return outcome{}, err
		}
		obs := fmt.Sprintf("Falha da IA: %v", err)
		l.log(ctx, fmt.Sprintf("   - Falha da IA para '%s': %v", link.Contact.Name, err), nil)
		return outcome{Outcome: repository.Outcome{
			Situacao:     models.SituacaoAIError,
			Conversation: &history,
			Observations: &obs,
		}}, nil
	}
	l.log(ctx, fmt.Sprintf("   - Decisão da IA: Mudar status para '%s'.", d.Status.Label()), nil)

	if !d.HasMessage() {
		l.log(ctx, "   - Decisão da IA: Nenhuma mensagem a ser enviada neste momento.", nil)
		conv := append(history, models.Message{
			ID:      models.NewInternalID(),
			Role:    models.RoleAssistant,
			Content: fmt.Sprintf("[Ação interna: sem resposta - modo: %s]", task.Mode),
		})
		out := outcome{Outcome: repository.Outcome{Situacao: d.Status, Conversation: &conv}}
		withObservation(&out.Outcome, d.Observation)
		return out, nil
	}

	res := l.deps.Dispatcher.Dispatch(ctx, dispatch.Request{
		CampaignID: campaign.ID,
		Instance:   instance,
		Number:     link.Contact.Phone,
		Text:       *d.Message,
		Mode:       task.Mode,
	})
	conv := append(history, res.Sent...)
	out := outcome{sent: len(res.Sent)}

	if !res.OK() {
		if ctx.Err() != nil {
			return outcome{}, res.Err
		}
		l.log(ctx, fmt.Sprintf("   - FALHA CRÍTICA ao enviar mensagem para '%s': %v", link.Contact.Name, res.Err), nil)
		out.Outcome = repository.Outcome{Situacao: models.SituacaoSendFailed, Conversation: &conv}
		withObservation(&out.Outcome, fmt.Sprintf("Falha no envio (%d de %d partes enviadas): %v", len(res.Sent), res.Parts, res.Err))
		return out, nil
	}

	l.log(ctx, fmt.Sprintf("   - %d parte(s) de mensagem enviada(s) para '%s'.", len(res.Sent), link.Contact.Name), nil)
	out.Outcome = repository.Outcome{Situacao: d.Status, Conversation: &conv}
	withObservation(&out.Outcome, d.Observation)
	return out, nil
}

// onChannel reports whether any spelling of the contact number exists on
// the channel. A failed check lets the send go ahead.
func (l *loop) onChannel(ctx context.Context, instance string, link *models.LinkWithContact, logger *slog.Logger) bool {
	variants := phone.CanonicalVariants(link.Contact.Phone)
	found, err := l.deps.Numbers.CheckNumbers(ctx, instance, variants)
	if err != nil {
		logger.Warn("number check failed, sending anyway", "error", err)
		return true
	}
	for _, v := range variants {
		if found[v] {
			return true
		}
	}
	l.log(ctx, fmt.Sprintf("   - NÚMERO INVÁLIDO. '%s' não é uma conta de WhatsApp.", link.Contact.Phone), nil)
	return false
}
