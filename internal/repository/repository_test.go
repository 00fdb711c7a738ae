package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/foxzi/prospector/internal/db/dbtest"
	"github.com/foxzi/prospector/internal/models"
)

// setupTestDB creates an in-memory SQLite database with all migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbtest.Open(t)
}

type fixture struct {
	db       *sql.DB
	user     *models.User
	persona  *models.Persona
	campaign *models.Campaign
	contacts []*models.Contact

	campaigns *CampaignRepository
	links     *LinkRepository
}

func newFixture(t *testing.T, contacts int) *fixture {
	t.Helper()
	ctx := context.Background()
	conn := setupTestDB(t)

	f := &fixture{
		db:        conn,
		campaigns: NewCampaignRepository(conn),
		links:     NewLinkRepository(conn),
	}

	f.user = &models.User{Name: "Ana", InstanceName: "ana-instance"}
	if err := NewUserRepository(conn).Create(ctx, f.user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	f.persona = &models.Persona{UserID: f.user.ID, Name: "Sales"}
	if err := NewPersonaRepository(conn).Create(ctx, f.persona); err != nil {
		t.Fatalf("create persona: %v", err)
	}

	f.campaign = &models.Campaign{
		Name:                   "Spring outreach",
		UserID:                 f.user.ID,
		PersonaID:              f.persona.ID,
		FollowupInterval:       24 * time.Hour,
		InitialMessageInterval: 10 * time.Minute,
	}
	if err := f.campaigns.Create(ctx, f.campaign); err != nil {
		t.Fatalf("create campaign: %v", err)
	}

	contactRepo := NewContactRepository(conn)
	var ids []string
	for i := 0; i < contacts; i++ {
		c := &models.Contact{
			UserID: f.user.ID,
			Name:   fmt.Sprintf("Contact %d", i),
			Phone:  fmt.Sprintf("55119876543%02d", i),
		}
		if err := contactRepo.Create(ctx, c); err != nil {
			t.Fatalf("create contact: %v", err)
		}
		f.contacts = append(f.contacts, c)
		ids = append(ids, c.ID)
	}

	if _, err := f.links.AddContacts(ctx, f.campaign.ID, ids); err != nil {
		t.Fatalf("add contacts: %v", err)
	}
	return f
}

// linkFor returns the link of the i-th fixture contact
func (f *fixture) linkFor(t *testing.T, i int) *models.LinkWithContact {
	t.Helper()
	links, err := f.links.ListByCampaign(context.Background(), f.campaign.ID)
	if err != nil {
		t.Fatalf("ListByCampaign() error = %v", err)
	}
	for _, l := range links {
		if l.ContactID == f.contacts[i].ID {
			return &l
		}
	}
	t.Fatalf("no link for contact %d", i)
	return nil
}

func TestCampaignRepository(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	got, err := f.campaigns.GetByID(ctx, f.campaign.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetByID() returned nil")
	}
	if got.Status != models.CampaignPending {
		t.Errorf("Status = %v, want %v", got.Status, models.CampaignPending)
	}
	if got.FollowupInterval != 24*time.Hour {
		t.Errorf("FollowupInterval = %v, want 24h", got.FollowupInterval)
	}
	if got.PersonaID != f.persona.ID {
		t.Errorf("PersonaID = %v, want %v", got.PersonaID, f.persona.ID)
	}

	missing, err := f.campaigns.GetByID(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if missing != nil {
		t.Error("GetByID() expected nil for nonexistent campaign")
	}

	if err := f.campaigns.SetStatus(ctx, f.campaign.ID, models.CampaignRunning); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	active, err := f.campaigns.GetActive(ctx)
	if err != nil {
		t.Fatalf("GetActive() error = %v", err)
	}
	if len(active) != 1 || active[0].ID != f.campaign.ID {
		t.Errorf("GetActive() = %v, want the running campaign", active)
	}

	paused := models.CampaignPaused
	if err := f.campaigns.AppendLog(ctx, f.campaign.ID, "first line", nil); err != nil {
		t.Fatalf("AppendLog() error = %v", err)
	}
	if err := f.campaigns.AppendLog(ctx, f.campaign.ID, "stopped", &paused); err != nil {
		t.Fatalf("AppendLog() error = %v", err)
	}
	got, _ = f.campaigns.GetByID(ctx, f.campaign.ID)
	if got.Status != models.CampaignPaused {
		t.Errorf("Status = %v, want paused", got.Status)
	}
	if want := "] first line\n"; !strings.Contains(got.Log, want) {
		t.Errorf("Log = %q, want it to contain %q", got.Log, want)
	}
	if want := "] stopped\n"; !strings.Contains(got.Log, want) {
		t.Errorf("Log = %q, want it to contain %q", got.Log, want)
	}
}

func TestCampaignDeleteRefusedWhileRunning(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	if err := f.campaigns.SetStatus(ctx, f.campaign.ID, models.CampaignRunning); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	if err := f.campaigns.Delete(ctx, f.campaign.ID); err != ErrCampaignRunning {
		t.Fatalf("Delete() error = %v, want ErrCampaignRunning", err)
	}
	if err := f.links.Remove(ctx, f.campaign.ID, f.linkFor(t, 0).ID); err != ErrCampaignRunning {
		t.Fatalf("Remove() error = %v, want ErrCampaignRunning", err)
	}

	if err := f.campaigns.SetStatus(ctx, f.campaign.ID, models.CampaignPaused); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	if err := f.links.Remove(ctx, f.campaign.ID, f.linkFor(t, 0).ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := f.campaigns.Delete(ctx, f.campaign.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	var n int
	if err := f.db.QueryRow("SELECT COUNT(*) FROM campaign_contacts").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("links after delete = %d, want 0 (cascade)", n)
	}
}

func TestAddContactsSkipsDuplicates(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	added, err := f.links.AddContacts(ctx, f.campaign.ID, []string{f.contacts[0].ID, f.contacts[1].ID})
	if err != nil {
		t.Fatalf("AddContacts() error = %v", err)
	}
	if added != 0 {
		t.Errorf("AddContacts() added = %d, want 0", added)
	}
}

func TestNextTiers(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	first, err := f.links.NextInitial(ctx, f.campaign.ID)
	if err != nil {
		t.Fatalf("NextInitial() error = %v", err)
	}
	if first == nil || first.ContactID != f.contacts[0].ID {
		t.Fatalf("NextInitial() = %v, want first created contact", first)
	}
	if first.Contact.Phone != f.contacts[0].Phone {
		t.Errorf("joined contact phone = %v, want %v", first.Contact.Phone, f.contacts[0].Phone)
	}

	reply, err := f.links.NextReply(ctx, f.campaign.ID)
	if err != nil {
		t.Fatalf("NextReply() error = %v", err)
	}
	if reply != nil {
		t.Errorf("NextReply() = %v, want nil", reply)
	}

	// two replies: the older update wins
	base := time.Now().UTC().Add(time.Hour)
	f.links.now = func() time.Time { return base }
	if _, err := f.links.RecordInbound(ctx, f.linkFor(t, 2).ID, models.Message{ID: "a", Role: models.RoleUser, Content: "hi"}, ""); err != nil {
		t.Fatalf("RecordInbound() error = %v", err)
	}
	f.links.now = func() time.Time { return base.Add(time.Minute) }
	if _, err := f.links.RecordInbound(ctx, f.linkFor(t, 1).ID, models.Message{ID: "b", Role: models.RoleUser, Content: "hello"}, ""); err != nil {
		t.Fatalf("RecordInbound() error = %v", err)
	}

	reply, err = f.links.NextReply(ctx, f.campaign.ID)
	if err != nil {
		t.Fatalf("NextReply() error = %v", err)
	}
	if reply == nil || reply.ContactID != f.contacts[2].ID {
		t.Errorf("NextReply() = %v, want contact 2", reply)
	}
}

func TestNextFollowup(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	old := time.Now().UTC().Add(time.Hour)
	f.links.now = func() time.Time { return old }
	if err := f.links.setSituacao(ctx, f.linkFor(t, 0).ID, models.SituacaoAwaitingResponse); err != nil {
		t.Fatalf("setSituacao() error = %v", err)
	}
	if err := f.links.setSituacao(ctx, f.linkFor(t, 1).ID, models.SituacaoNotInterested); err != nil {
		t.Fatalf("setSituacao() error = %v", err)
	}

	exclude := []models.Situacao{
		models.SituacaoNotInterested, models.SituacaoCompleted, models.SituacaoSendFailed,
		models.SituacaoReplyReceived, models.SituacaoAwaitingStart,
	}

	got, err := f.links.NextFollowup(ctx, f.campaign.ID, old.Add(time.Hour), exclude)
	if err != nil {
		t.Fatalf("NextFollowup() error = %v", err)
	}
	if got == nil || got.ContactID != f.contacts[0].ID {
		t.Fatalf("NextFollowup() = %v, want contact 0", got)
	}

	got, err = f.links.NextFollowup(ctx, f.campaign.ID, old.Add(-time.Hour), exclude)
	if err != nil {
		t.Fatalf("NextFollowup() error = %v", err)
	}
	if got != nil {
		t.Errorf("NextFollowup() = %v, want nil for fresh links", got)
	}
}

func TestApplyOutcome(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	id := f.linkFor(t, 0).ID

	if err := f.links.SetProcessing(ctx, id); err != nil {
		t.Fatalf("SetProcessing() error = %v", err)
	}

	conv := models.Conversation{{ID: models.NewSentID(), Role: models.RoleAssistant, Content: "Hi"}}
	obs := "opened"
	if err := f.links.ApplyOutcome(ctx, id, Outcome{
		Situacao:     models.SituacaoAwaitingResponse,
		Conversation: &conv,
		Observations: &obs,
	}); err != nil {
		t.Fatalf("ApplyOutcome() error = %v", err)
	}

	got, _ := f.links.GetByID(ctx, id)
	if got.Situacao != models.SituacaoAwaitingResponse {
		t.Errorf("Situacao = %v, want awaiting_response", got.Situacao)
	}
	if !got.Conversation.Equal(conv) {
		t.Errorf("Conversation = %v, want %v", got.Conversation, conv)
	}
	if got.Observations != obs {
		t.Errorf("Observations = %q, want %q", got.Observations, obs)
	}

	if err := f.links.ApplyOutcome(ctx, id, Outcome{Situacao: "bogus"}); err == nil {
		t.Error("ApplyOutcome() expected error for invalid situacao")
	}
}

func TestApplyOutcomeKeepsConcurrentReply(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	id := f.linkFor(t, 0).ID

	if err := f.links.SetProcessing(ctx, id); err != nil {
		t.Fatalf("SetProcessing() error = %v", err)
	}
	if _, err := f.links.RecordInbound(ctx, id, models.Message{ID: "in-1", Role: models.RoleUser, Content: "wait"}, ""); err != nil {
		t.Fatalf("RecordInbound() error = %v", err)
	}
	if err := f.links.ApplyOutcome(ctx, id, Outcome{Situacao: models.SituacaoAwaitingResponse}); err != nil {
		t.Fatalf("ApplyOutcome() error = %v", err)
	}

	got, _ := f.links.GetByID(ctx, id)
	if got.Situacao != models.SituacaoReplyReceived {
		t.Errorf("Situacao = %v, want reply_received to survive", got.Situacao)
	}
}

func TestUpdatedAtNeverRegresses(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	id := f.linkFor(t, 0).ID

	later := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	f.links.now = func() time.Time { return later }
	if err := f.links.SetProcessing(ctx, id); err != nil {
		t.Fatalf("SetProcessing() error = %v", err)
	}

	f.links.now = func() time.Time { return later.Add(-time.Hour) }
	if err := f.links.ApplyOutcome(ctx, id, Outcome{Situacao: models.SituacaoAwaitingResponse}); err != nil {
		t.Fatalf("ApplyOutcome() error = %v", err)
	}

	got, _ := f.links.GetByID(ctx, id)
	if !got.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, later)
	}
}

func TestRecordInbound(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	id := f.linkFor(t, 0).ID

	msg := models.Message{ID: "wamid-1", Role: models.RoleUser, Content: "hello"}
	changed, err := f.links.RecordInbound(ctx, id, msg, "")
	if err != nil {
		t.Fatalf("RecordInbound() error = %v", err)
	}
	if !changed {
		t.Error("RecordInbound() changed = false, want true")
	}
	// duplicate delivery
	if _, err := f.links.RecordInbound(ctx, id, msg, ""); err != nil {
		t.Fatalf("RecordInbound() error = %v", err)
	}

	got, _ := f.links.GetByID(ctx, id)
	if len(got.Conversation) != 1 {
		t.Errorf("Conversation length = %d, want 1", len(got.Conversation))
	}
	if got.Situacao != models.SituacaoReplyReceived {
		t.Errorf("Situacao = %v, want reply_received", got.Situacao)
	}

	media := models.Message{ID: models.MediaPlaceholderID("wamid-2"), Role: models.RoleUser, Content: "[Mídia recebida: audio]"}
	if _, err := f.links.RecordInbound(ctx, id, media, "audio"); err != nil {
		t.Fatalf("RecordInbound() error = %v", err)
	}
	got, _ = f.links.GetByID(ctx, id)
	if got.PendingMediaType != "audio" {
		t.Errorf("PendingMediaType = %q, want audio", got.PendingMediaType)
	}

	if err := f.links.SaveConversation(ctx, id, got.Conversation.WithoutSynthetic()); err != nil {
		t.Fatalf("SaveConversation() error = %v", err)
	}
	got, _ = f.links.GetByID(ctx, id)
	if got.PendingMediaType != "" {
		t.Errorf("PendingMediaType = %q, want cleared", got.PendingMediaType)
	}

	// terminal links are not reopened
	if err := f.links.setSituacao(ctx, id, models.SituacaoCompleted); err != nil {
		t.Fatalf("setSituacao() error = %v", err)
	}
	changed, err = f.links.RecordInbound(ctx, id, models.Message{ID: "wamid-3", Role: models.RoleUser, Content: "again"}, "")
	if err != nil {
		t.Fatalf("RecordInbound() error = %v", err)
	}
	if changed {
		t.Error("RecordInbound() changed a completed link")
	}
	got, _ = f.links.GetByID(ctx, id)
	if got.Situacao != models.SituacaoCompleted {
		t.Errorf("Situacao = %v, want completed", got.Situacao)
	}
}

func TestFindLatestByPhones(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	// a second, newer campaign for the same contact
	newer := &models.Campaign{Name: "Second wave", UserID: f.user.ID}
	if err := f.campaigns.Create(ctx, newer); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	f.links.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	if _, err := f.links.AddContacts(ctx, newer.ID, []string{f.contacts[0].ID}); err != nil {
		t.Fatalf("AddContacts() error = %v", err)
	}

	got, err := f.links.FindLatestByPhones(ctx, f.user.ID, []string{"nope", f.contacts[0].Phone})
	if err != nil {
		t.Fatalf("FindLatestByPhones() error = %v", err)
	}
	if got == nil || got.CampaignID != newer.ID {
		t.Fatalf("FindLatestByPhones() = %v, want link of the newer campaign", got)
	}

	got, err = f.links.FindLatestByPhones(ctx, "other-user", []string{f.contacts[0].Phone})
	if err != nil {
		t.Fatalf("FindLatestByPhones() error = %v", err)
	}
	if got != nil {
		t.Error("FindLatestByPhones() matched a link of another user")
	}
}

func TestFindLatestByPhonesFormattedContact(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	c := &models.Contact{UserID: f.user.ID, Name: "Joana", Phone: "(45) 99986-1237"}
	if err := NewContactRepository(f.db).Create(ctx, c); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if c.Phone != "5545999861237" {
		t.Errorf("stored phone = %q, want 5545999861237", c.Phone)
	}
	if _, err := f.links.AddContacts(ctx, f.campaign.ID, []string{c.ID}); err != nil {
		t.Fatalf("AddContacts() error = %v", err)
	}

	// the channel reports the sender without the extra mobile digit
	got, err := f.links.FindLatestByPhones(ctx, f.user.ID, []string{"554599861237", "5545999861237"})
	if err != nil {
		t.Fatalf("FindLatestByPhones() error = %v", err)
	}
	if got == nil || got.ContactID != c.ID {
		t.Fatalf("FindLatestByPhones() = %v, want the formatted contact", got)
	}

	if err := NewContactRepository(f.db).Create(ctx, &models.Contact{UserID: f.user.ID, Name: "Sem número", Phone: "n/a"}); err == nil {
		t.Error("Create() accepted a contact without phone digits")
	}
}

func TestTransitionFromRunning(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	if err := f.campaigns.SetStatus(ctx, f.campaign.ID, models.CampaignPaused); err != nil {
		t.Fatal(err)
	}
	if err := f.campaigns.TransitionFromRunning(ctx, f.campaign.ID, "all done", models.CampaignCompleted); err != nil {
		t.Fatalf("TransitionFromRunning() error = %v", err)
	}
	got, _ := f.campaigns.GetByID(ctx, f.campaign.ID)
	if got.Status != models.CampaignPaused {
		t.Errorf("Status = %v, want the operator pause kept", got.Status)
	}
	if !strings.Contains(got.Log, "] all done\n") {
		t.Errorf("Log = %q, want the line appended", got.Log)
	}

	if err := f.campaigns.SetStatus(ctx, f.campaign.ID, models.CampaignRunning); err != nil {
		t.Fatal(err)
	}
	if err := f.campaigns.TransitionFromRunning(ctx, f.campaign.ID, "all done", models.CampaignCompleted); err != nil {
		t.Fatalf("TransitionFromRunning() error = %v", err)
	}
	if got, _ := f.campaigns.GetByID(ctx, f.campaign.ID); got.Status != models.CampaignCompleted {
		t.Errorf("Status = %v, want completed", got.Status)
	}
}

func TestCampaignList(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	got, err := f.campaigns.List(ctx, f.user.ID)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != f.campaign.ID {
		t.Errorf("List() = %+v, want the fixture campaign", got)
	}

	other, err := f.campaigns.List(ctx, "someone-else")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if other == nil || len(other) != 0 {
		t.Errorf("List() for another user = %v, want empty", other)
	}
}

func TestResetProcessingAndCountOpen(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	if err := f.links.SetProcessing(ctx, f.linkFor(t, 0).ID); err != nil {
		t.Fatal(err)
	}
	if err := f.links.setSituacao(ctx, f.linkFor(t, 1).ID, models.SituacaoQualified); err != nil {
		t.Fatal(err)
	}

	n, err := f.links.ResetProcessing(ctx)
	if err != nil {
		t.Fatalf("ResetProcessing() error = %v", err)
	}
	if n != 1 {
		t.Errorf("ResetProcessing() = %d, want 1", n)
	}
	if got := f.linkFor(t, 0).Situacao; got != models.SituacaoAwaitingResponse {
		t.Errorf("Situacao = %v, want awaiting_response", got)
	}

	open, err := f.links.CountOpen(ctx, f.campaign.ID)
	if err != nil {
		t.Fatalf("CountOpen() error = %v", err)
	}
	if open != 2 {
		t.Errorf("CountOpen() = %d, want 2", open)
	}

	stats, err := f.campaigns.Stats(ctx, f.campaign.ID)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats[models.SituacaoQualified] != 1 || stats[models.SituacaoAwaitingStart] != 1 {
		t.Errorf("Stats() = %v", stats)
	}
}

func TestCountBySituacao(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	if err := f.links.setSituacao(ctx, f.linkFor(t, 2).ID, models.SituacaoNoWhatsApp); err != nil {
		t.Fatal(err)
	}

	counts, err := f.links.CountBySituacao(ctx)
	if err != nil {
		t.Fatalf("CountBySituacao() error = %v", err)
	}
	if counts[models.SituacaoAwaitingStart] != 2 || counts[models.SituacaoNoWhatsApp] != 1 {
		t.Errorf("CountBySituacao() = %v", counts)
	}
}

func TestInvalidSituacaoInStorage(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	id := f.linkFor(t, 0).ID

	if _, err := f.db.Exec("UPDATE campaign_contacts SET situacao = 'Talvez' WHERE id = ?", id); err != nil {
		t.Fatal(err)
	}
	if _, err := f.links.GetByID(ctx, id); err == nil {
		t.Error("GetByID() expected error for a status outside the closed set")
	}
}
