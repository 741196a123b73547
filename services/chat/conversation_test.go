package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tas-support-backend/config"
	"github.com/tas-support-backend/models"
	"github.com/tas-support-backend/services"
)

// mockSessionStore keeps rooms, messages, and session contexts in maps.
type mockSessionStore struct {
	rooms     map[uint]*models.ChatRoom
	messages  []*models.Message
	contexts  map[uint]map[string]any
	nextMsgID uint

	agentUser *models.User
	ensureErr error
}

func newMockStore() *mockSessionStore {
	return &mockSessionStore{
		rooms:     map[uint]*models.ChatRoom{},
		contexts:  map[uint]map[string]any{},
		agentUser: &models.User{ID: 99, Name: "Sam", Email: "sam@agency.example"},
	}
}

func (m *mockSessionStore) ResolveSession(ctx context.Context, tenantID, sessionToken, visitorID string) (*models.ChatRoom, bool, error) {
	return nil, false, errors.New("not used")
}

func (m *mockSessionStore) GetRoom(ctx context.Context, tenantID string, roomID uint) (*models.ChatRoom, error) {
	room, ok := m.rooms[roomID]
	if !ok || room.ClientID != tenantID {
		return nil, fmt.Errorf("room %d not found", roomID)
	}
	return room, nil
}

func (m *mockSessionStore) UpdateRoom(ctx context.Context, room *models.ChatRoom) error {
	m.rooms[room.ID] = room
	return nil
}

func (m *mockSessionStore) CloseRoom(ctx context.Context, tenantID string, roomID uint) error {
	room, err := m.GetRoom(ctx, tenantID, roomID)
	if err != nil {
		return err
	}
	room.Status = models.RoomStatusClosed
	return nil
}

func (m *mockSessionStore) CloseIdleRooms(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

func (m *mockSessionStore) TouchRoom(ctx context.Context, tenantID string, roomID uint) error {
	return nil
}

func (m *mockSessionStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	m.nextMsgID++
	msg.ID = m.nextMsgID
	msg.CreatedAt = time.Now()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *mockSessionStore) RecentMessages(ctx context.Context, tenantID string, roomID uint, limit int) ([]models.Message, error) {
	var out []models.Message
	for _, msg := range m.messages {
		if msg.RoomID == roomID && msg.ClientID == tenantID {
			out = append(out, *msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *mockSessionStore) History(ctx context.Context, tenantID string, roomID uint, limit int) ([]models.Message, error) {
	return m.RecentMessages(ctx, tenantID, roomID, limit)
}

func (m *mockSessionStore) Conversations(ctx context.Context, tenantID, visitorID string) ([]models.ConversationSummary, error) {
	return nil, nil
}

func (m *mockSessionStore) GetContext(ctx context.Context, tenantID string, roomID uint) (*models.SessionContext, error) {
	if _, ok := m.contexts[roomID]; !ok {
		m.contexts[roomID] = map[string]any{}
	}
	return m.sessionContext(tenantID, roomID), nil
}

func (m *mockSessionStore) MergeEntities(ctx context.Context, tenantID string, roomID uint, entities map[string]any) (*models.SessionContext, error) {
	if _, ok := m.contexts[roomID]; !ok {
		m.contexts[roomID] = map[string]any{}
	}
	for k, v := range entities {
		if v == nil {
			delete(m.contexts[roomID], k)
			continue
		}
		m.contexts[roomID][k] = v
	}
	return m.sessionContext(tenantID, roomID), nil
}

func (m *mockSessionStore) sessionContext(tenantID string, roomID uint) *models.SessionContext {
	data, _ := models.ConvertToJSON(m.contexts[roomID])
	return &models.SessionContext{RoomID: roomID, ClientID: tenantID, CollectedEntities: data}
}

func (m *mockSessionStore) GetClient(ctx context.Context, tenantID string) (*models.Client, error) {
	return &models.Client{ClientID: tenantID}, nil
}

func (m *mockSessionStore) EnsureAgentUser(ctx context.Context, tenantID string, agent models.Agent) (*models.User, error) {
	if m.ensureErr != nil {
		return nil, m.ensureErr
	}
	return m.agentUser, nil
}

type mockQueryService struct {
	response *models.QueryResponse
	err      error
	calls    int
	lastOpts models.QueryOptions
}

func (m *mockQueryService) Query(ctx context.Context, tenantID, question string, opts models.QueryOptions) (*models.QueryResponse, error) {
	m.calls++
	m.lastOpts = opts
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func (m *mockQueryService) StreamQuery(ctx context.Context, tenantID, question string, opts models.QueryOptions) (<-chan models.StreamChunk, error) {
	return nil, errors.New("not used")
}

func (m *mockQueryService) SemanticSearch(ctx context.Context, tenantID, question string, limit int) ([]models.SearchResult, error) {
	return nil, nil
}

func (m *mockQueryService) HybridQuery(ctx context.Context, tenantID, question string, opts models.QueryOptions) (*models.QueryResponse, error) {
	return m.Query(ctx, tenantID, question, opts)
}

func (m *mockQueryService) Classify(question string) models.QueryRoute { return models.RouteVector }

func (m *mockQueryService) Metrics() models.QueryMetricsSnapshot { return models.QueryMetricsSnapshot{} }

type mockDirectory struct {
	agent        *models.Agent
	selectErr    error
	reserveErr   error
	selectCalls  int
	lastReq      models.AgentRequirements
	reserved     []models.Agent
	released     []models.Agent
	queued       []models.QueueEntry
	dequeueCalls int
}

func (m *mockDirectory) ListAvailable(ctx context.Context, tenantID string) ([]models.Agent, error) {
	return nil, nil
}

func (m *mockDirectory) SelectAgent(ctx context.Context, tenantID string, req models.AgentRequirements) (*models.Agent, error) {
	m.selectCalls++
	m.lastReq = req
	return m.agent, m.selectErr
}

func (m *mockDirectory) ReserveAgent(ctx context.Context, agent models.Agent) error {
	if m.reserveErr != nil {
		return m.reserveErr
	}
	m.reserved = append(m.reserved, agent)
	return nil
}

func (m *mockDirectory) ReleaseAgent(ctx context.Context, agent models.Agent) error {
	m.released = append(m.released, agent)
	return nil
}

func (m *mockDirectory) Enqueue(entry models.QueueEntry) { m.queued = append(m.queued, entry) }

func (m *mockDirectory) DequeueNext(tenantID string) (*models.QueueEntry, bool) {
	m.dequeueCalls++
	for i, e := range m.queued {
		if e.TenantID == tenantID {
			entry := e
			m.queued = append(m.queued[:i], m.queued[i+1:]...)
			return &entry, true
		}
	}
	return nil, false
}

func (m *mockDirectory) QueuePosition(tenantID string, roomID uint) (int, int) {
	return 0, len(m.queued)
}

func (m *mockDirectory) SweepQueue(olderThan time.Duration) int { return 0 }

type mockNotifier struct {
	newMessages    []*models.Message
	typing         []bool
	sessionUpdates []map[string]any
	mirrored       []*models.Message
	assigned       []models.Agent
}

func (m *mockNotifier) EmitNewMessage(room *models.ChatRoom, msg *models.Message) {
	m.newMessages = append(m.newMessages, msg)
}

func (m *mockNotifier) EmitTyping(room *models.ChatRoom, sender string, isTyping bool) {
	m.typing = append(m.typing, isTyping)
}

func (m *mockNotifier) EmitSessionUpdate(room *models.ChatRoom, payload map[string]any) {
	m.sessionUpdates = append(m.sessionUpdates, payload)
}

func (m *mockNotifier) MirrorToBridge(room *models.ChatRoom, msg *models.Message, entities map[string]any) {
	m.mirrored = append(m.mirrored, msg)
}

func (m *mockNotifier) NotifyAgentAssigned(room *models.ChatRoom, agent models.Agent) {
	m.assigned = append(m.assigned, agent)
}

type stubExtractor struct {
	entities map[string]any
	err      error
}

func (s *stubExtractor) Extract(ctx context.Context, content string) (map[string]any, error) {
	return s.entities, s.err
}

type convoFixture struct {
	store     *mockSessionStore
	query     *mockQueryService
	directory *mockDirectory
	notifier  *mockNotifier
	extractor *stubExtractor
	svc       services.ConversationService
}

func newConvoFixture(cfg *config.RoutingConfig) *convoFixture {
	if cfg == nil {
		cfg = &config.RoutingConfig{PreferLocalAgents: true}
	}
	f := &convoFixture{
		store:     newMockStore(),
		query:     &mockQueryService{},
		directory: &mockDirectory{},
		notifier:  &mockNotifier{},
		extractor: &stubExtractor{},
	}
	f.store.rooms[1] = &models.ChatRoom{ID: 1, ClientID: "acme", Status: models.RoomStatusActive}
	f.svc = NewConversationService(cfg, f.store, f.query, NewHandoverDetector(), f.extractor, f.directory, f.notifier)
	return f
}

func intPtr(v int) *int { return &v }

func TestProcessMessage_AITurn(t *testing.T) {
	f := newConvoFixture(nil)
	f.query.response = &models.QueryResponse{
		Text:       "You can reset it from account settings.",
		Sources:    []models.QuerySource{{DocumentID: "doc-1", ChunkIndex: 2, Score: 0.82}},
		Confidence: intPtr(82),
		Intent:     "question",
	}

	result, err := f.svc.ProcessMessage(context.Background(), "acme", 1, "How do I reset my password?")
	require.NoError(t, err)

	require.NotNil(t, result.CustomerMessage)
	assert.Equal(t, models.SenderCustomer, result.CustomerMessage.SenderType)
	require.NotNil(t, result.AIMessage)
	assert.Equal(t, "You can reset it from account settings.", result.AIMessage.Content)
	assert.Len(t, result.Sources, 1)

	meta := models.MetadataFromJSON(result.AIMessage.Metadata)
	require.NotNil(t, meta)
	require.NotNil(t, meta.Confidence)
	assert.InDelta(t, 0.82, *meta.Confidence, 1e-9)
	assert.Equal(t, "question", meta.Intent)

	// Customer message then AI reply, both persisted and fanned out.
	require.Len(t, f.store.messages, 2)
	assert.Len(t, f.notifier.newMessages, 2)

	// Both sides of the turn reach the agent bridge.
	require.Len(t, f.notifier.mirrored, 2)
	assert.Equal(t, models.SenderCustomer, f.notifier.mirrored[0].SenderType)
	assert.Equal(t, models.SenderAI, f.notifier.mirrored[1].SenderType)

	// Typing indicator was shown and cleared.
	assert.Equal(t, []bool{true, false}, f.notifier.typing)
}

func TestProcessMessage_ClosedRoom(t *testing.T) {
	f := newConvoFixture(nil)
	f.store.rooms[1].Status = models.RoomStatusClosed

	_, err := f.svc.ProcessMessage(context.Background(), "acme", 1, "hello?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "room 1 is closed")
}

func TestProcessMessage_TakeoverMirrorsToBridge(t *testing.T) {
	f := newConvoFixture(nil)
	agentID := uint(99)
	f.store.rooms[1].Takeover = true
	f.store.rooms[1].AssignedAgentID = &agentID

	result, err := f.svc.ProcessMessage(context.Background(), "acme", 1, "are you still there?")
	require.NoError(t, err)

	assert.Nil(t, result.AIMessage, "the AI stays silent once an agent owns the room")
	require.Len(t, f.notifier.mirrored, 1)
	assert.Equal(t, models.SenderCustomer, f.notifier.mirrored[0].SenderType)
	assert.Zero(t, f.query.calls)
	assert.Len(t, f.store.messages, 1)
}

func TestProcessMessage_TakeoverEscalationGetsReminder(t *testing.T) {
	f := newConvoFixture(nil)
	agentID := uint(99)
	f.store.rooms[1].Takeover = true
	f.store.rooms[1].AssignedAgentID = &agentID

	result, err := f.svc.ProcessMessage(context.Background(), "acme", 1, "I want to talk to a human")
	require.NoError(t, err)

	assert.Nil(t, result.AIMessage)
	assert.Zero(t, f.query.calls)
	assert.Zero(t, f.directory.selectCalls, "the room already has its agent")

	// The customer is reminded an agent is already on the line.
	require.Len(t, f.store.messages, 2)
	last := f.store.messages[1]
	assert.Equal(t, models.SenderSystem, last.SenderType)
	assert.Equal(t, agentReminderMessage, last.Content)
}

func TestProcessMessage_ExplicitRequestAssignsAgent(t *testing.T) {
	f := newConvoFixture(nil)
	f.directory.agent = &models.Agent{
		ID: "ag-1", Source: models.AgentSourceExternal, Name: "Sam",
		Email: "sam@agency.example", Status: "online", MaxConcurrent: 4,
	}

	result, err := f.svc.ProcessMessage(context.Background(), "acme", 1, "I want to talk to a human")
	require.NoError(t, err)

	require.NotNil(t, result.Handover)
	assert.Equal(t, models.ReasonExplicitRequest, result.Handover.Reason)
	require.NotNil(t, result.Handover.AssignedAgent)
	assert.Equal(t, "ag-1", result.Handover.AssignedAgent.ID)

	require.Len(t, f.directory.reserved, 1)

	room := f.store.rooms[1]
	assert.True(t, room.Takeover)
	require.NotNil(t, room.AssignedAgentID)
	assert.Equal(t, uint(99), *room.AssignedAgentID)
	require.NotNil(t, room.AgentSource)
	assert.Equal(t, "external", *room.AgentSource)

	// The customer hears about the connection via a system message.
	last := f.store.messages[len(f.store.messages)-1]
	assert.Equal(t, models.SenderSystem, last.SenderType)
	assert.Contains(t, last.Content, "You are now connected with Sam")

	require.Len(t, f.notifier.assigned, 1)
	require.Len(t, f.notifier.sessionUpdates, 1)
	assert.Equal(t, true, f.notifier.sessionUpdates[0]["takeover"])
	assert.Zero(t, f.query.calls, "handover turns never reach the AI")
}

func TestProcessMessage_NoAgentQueuesFrustrationHigh(t *testing.T) {
	f := newConvoFixture(nil)
	// An identified frustrated customer goes straight to assignment.
	f.extractor.entities = map[string]any{"email": "dana@example.com"}

	result, err := f.svc.ProcessMessage(context.Background(), "acme", 1, "This is ridiculous!!!")
	require.NoError(t, err)

	require.NotNil(t, result.Handover)
	assert.Equal(t, models.ReasonFrustration, result.Handover.Reason)
	assert.True(t, result.Handover.Queued)
	assert.Nil(t, result.Handover.AssignedAgent)

	require.Len(t, f.directory.queued, 1)
	entry := f.directory.queued[0]
	assert.Equal(t, "acme", entry.TenantID)
	assert.Equal(t, uint(1), entry.RoomID)
	assert.Equal(t, models.PriorityHigh, entry.Priority)

	last := f.store.messages[len(f.store.messages)-1]
	assert.Equal(t, queueFullMessage, last.Content)

	require.Len(t, f.notifier.sessionUpdates, 1)
	assert.Equal(t, true, f.notifier.sessionUpdates[0]["queued"])
}

func TestProcessMessage_AssistedIssueFallsThroughForIdentity(t *testing.T) {
	f := newConvoFixture(nil)
	f.query.response = &models.QueryResponse{Text: "I can help with that. Could you share your name and email?"}

	result, err := f.svc.ProcessMessage(context.Background(), "acme", 1, "I want a refund for my last order")
	require.NoError(t, err)

	// The turn still goes to the AI, which collects identity.
	assert.Nil(t, result.Handover)
	require.NotNil(t, result.AIMessage)
	require.Equal(t, 1, f.query.calls)
	assert.Equal(t, "identity", f.query.lastOpts.PromptType)
	assert.NotContains(t, f.query.lastOpts.Context, handoverKeyFlag)
	assert.NotContains(t, f.query.lastOpts.Context, handoverKeyReason)

	// The deferral is remembered for the next turn.
	assert.Equal(t, true, f.store.contexts[1][handoverKeyFlag])
	assert.Equal(t, models.ReasonAssistedIssue, f.store.contexts[1][handoverKeyReason])

	assert.Zero(t, f.directory.selectCalls, "no assignment until identity arrives")
}

func TestProcessMessage_PendingHandoverResolvesOnIdentity(t *testing.T) {
	f := newConvoFixture(nil)
	f.store.contexts[1] = map[string]any{
		handoverKeyFlag:   true,
		handoverKeyReason: models.ReasonAssistedIssue,
	}
	f.extractor.entities = map[string]any{"email": "dana@example.com"}
	f.directory.agent = &models.Agent{
		ID: "ag-1", Source: models.AgentSourceLocal, Name: "Sam",
		Email: "sam@acme.example", Status: "online", MaxConcurrent: 4,
	}

	result, err := f.svc.ProcessMessage(context.Background(), "acme", 1, "sure, it's dana@example.com")
	require.NoError(t, err)

	require.NotNil(t, result.Handover)
	assert.Equal(t, models.ReasonAssistedIssue, result.Handover.Reason)
	require.NotNil(t, result.Handover.AssignedAgent)

	// Flags were cleared but the collected identity stays.
	assert.NotContains(t, f.store.contexts[1], handoverKeyFlag)
	assert.NotContains(t, f.store.contexts[1], handoverKeyReason)
	assert.Equal(t, "dana@example.com", f.store.contexts[1]["email"])

	room := f.store.rooms[1]
	require.NotNil(t, room.CustomerEmail)
	assert.Equal(t, "dana@example.com", *room.CustomerEmail)
}

func TestProcessMessage_QueryFailureApologizesAndErrors(t *testing.T) {
	f := newConvoFixture(nil)
	f.query.err = errors.New("llm unreachable")

	_, err := f.svc.ProcessMessage(context.Background(), "acme", 1, "what plans do you offer?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm unreachable")

	// The customer still gets an apology before the error surfaces.
	last := f.store.messages[len(f.store.messages)-1]
	assert.Equal(t, models.SenderAI, last.SenderType)
	assert.Equal(t, apologyMessage, last.Content)
	assert.Equal(t, []bool{true, false}, f.notifier.typing)
}

func TestProcessMessage_HandoverFlagsHiddenFromPrompt(t *testing.T) {
	f := newConvoFixture(nil)
	f.store.contexts[1] = map[string]any{
		handoverKeyFlag:   true,
		handoverKeyReason: models.ReasonAssistedIssue,
		"plan":            "pro",
	}
	f.query.response = &models.QueryResponse{Text: "Sure."}

	// No identity yet, so the pending flag does not fire and the turn goes to
	// the AI. The internal flags must not leak into the prompt context.
	_, err := f.svc.ProcessMessage(context.Background(), "acme", 1, "what plans do you offer?")
	require.NoError(t, err)

	require.Equal(t, 1, f.query.calls)
	assert.NotContains(t, f.query.lastOpts.Context, handoverKeyFlag)
	assert.NotContains(t, f.query.lastOpts.Context, handoverKeyReason)
	assert.Equal(t, "pro", f.query.lastOpts.Context["plan"])
	assert.Equal(t, "identity", f.query.lastOpts.PromptType)
}

func TestEscalate(t *testing.T) {
	t.Run("closed room", func(t *testing.T) {
		f := newConvoFixture(nil)
		f.store.rooms[1].Status = models.RoomStatusClosed
		_, err := f.svc.Escalate(context.Background(), "acme", 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "closed")
	})

	t.Run("already has an agent", func(t *testing.T) {
		f := newConvoFixture(nil)
		agentID := uint(99)
		f.store.rooms[1].Takeover = true
		f.store.rooms[1].AssignedAgentID = &agentID
		_, err := f.svc.Escalate(context.Background(), "acme", 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already has an agent")
	})

	t.Run("assigns regardless of detector signals", func(t *testing.T) {
		f := newConvoFixture(nil)
		f.directory.agent = &models.Agent{
			ID: "ag-1", Source: models.AgentSourceLocal, Name: "Sam",
			Email: "sam@acme.example", Status: "online", MaxConcurrent: 4,
		}

		result, err := f.svc.Escalate(context.Background(), "acme", 1)
		require.NoError(t, err)
		assert.Equal(t, models.ReasonExplicitRequest, result.Reason)
		require.NotNil(t, result.AssignedAgent)
		assert.Equal(t, "ag-1", result.AssignedAgent.ID)
	})
}

func TestEscalate_SkillBasedRoutingUsesDepartment(t *testing.T) {
	f := newConvoFixture(&config.RoutingConfig{PreferLocalAgents: true, SkillBasedRouting: true})
	f.store.contexts[1] = map[string]any{"department": "billing"}
	f.directory.agent = &models.Agent{
		ID: "ag-1", Source: models.AgentSourceLocal, Name: "Sam",
		Email: "sam@acme.example", Status: "online", MaxConcurrent: 4, Department: "billing",
	}

	_, err := f.svc.Escalate(context.Background(), "acme", 1)
	require.NoError(t, err)
	assert.Equal(t, "billing", f.directory.lastReq.Department)
}

func TestAttachAgent_EnsureUserFailureReleasesAgent(t *testing.T) {
	f := newConvoFixture(nil)
	f.store.ensureErr = errors.New("users table unavailable")
	f.directory.agent = &models.Agent{
		ID: "ag-1", Source: models.AgentSourceExternal, Name: "Sam",
		Email: "sam@agency.example", Status: "online", MaxConcurrent: 4,
	}

	result, err := f.svc.ProcessMessage(context.Background(), "acme", 1, "transfer me")
	require.NoError(t, err)

	require.NotNil(t, result.Handover)
	assert.Nil(t, result.Handover.AssignedAgent)
	assert.False(t, result.Handover.Queued)

	// The reservation was rolled back.
	require.Len(t, f.directory.reserved, 1)
	require.Len(t, f.directory.released, 1)
	assert.Equal(t, "ag-1", f.directory.released[0].ID)
	assert.False(t, f.store.rooms[1].Takeover)
}

func TestPostAgentMessage(t *testing.T) {
	f := newConvoFixture(nil)
	agentID := uint(99)
	f.store.rooms[1].Takeover = true
	f.store.rooms[1].AssignedAgentID = &agentID

	msg, err := f.svc.PostAgentMessage(context.Background(), "acme", 1, 99, "Hi, I'm taking over from here.")
	require.NoError(t, err)
	assert.Equal(t, models.SenderAgent, msg.SenderType)
	require.NotNil(t, msg.SenderID)
	assert.Equal(t, uint(99), *msg.SenderID)
	assert.Len(t, f.notifier.newMessages, 1)

	_, err = f.svc.PostAgentMessage(context.Background(), "acme", 1, 42, "wrong desk")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent 42 is not assigned to room 1")
}

func TestCloseConversation_ReleasesLocalAgent(t *testing.T) {
	f := newConvoFixture(nil)
	agentID := uint(5)
	f.store.rooms[1].Takeover = true
	f.store.rooms[1].AssignedAgentID = &agentID
	f.store.rooms[1].AssignedAgent = &models.User{ID: 5, Source: models.AgentSourceLocal, Email: "sam@acme.example"}

	require.NoError(t, f.svc.CloseConversation(context.Background(), "acme", 1))

	assert.Equal(t, models.RoomStatusClosed, f.store.rooms[1].Status)
	require.Len(t, f.directory.released, 1)
	assert.Equal(t, "5", f.directory.released[0].ID, "local agents release by user id")

	require.Len(t, f.notifier.sessionUpdates, 1)
	assert.Equal(t, "closed", f.notifier.sessionUpdates[0]["status"])
}

func TestCloseConversation_ReleasesExternalAgentByExternalID(t *testing.T) {
	f := newConvoFixture(nil)
	agentID := uint(7)
	f.store.rooms[1].Takeover = true
	f.store.rooms[1].AssignedAgentID = &agentID
	f.store.rooms[1].AssignedAgent = &models.User{
		ID: 7, Source: models.AgentSourceExternal, ExternalID: "ext-42", Email: "sam@agency.example",
	}

	require.NoError(t, f.svc.CloseConversation(context.Background(), "acme", 1))
	require.Len(t, f.directory.released, 1)
	assert.Equal(t, "ext-42", f.directory.released[0].ID)
	assert.Equal(t, models.AgentSourceExternal, f.directory.released[0].Source)
}

func TestCloseConversation_NoAgentJustCloses(t *testing.T) {
	f := newConvoFixture(nil)

	require.NoError(t, f.svc.CloseConversation(context.Background(), "acme", 1))
	assert.Equal(t, models.RoomStatusClosed, f.store.rooms[1].Status)
	assert.Empty(t, f.directory.released)
	assert.Zero(t, f.directory.dequeueCalls, "nobody was freed, so nobody is pulled from the queue")
}

func TestCloseConversation_FreedAgentTakesNextQueuedRoom(t *testing.T) {
	f := newConvoFixture(nil)
	agentID := uint(5)
	f.store.rooms[1].Takeover = true
	f.store.rooms[1].AssignedAgentID = &agentID
	f.store.rooms[1].AssignedAgent = &models.User{ID: 5, Source: models.AgentSourceLocal, Email: "sam@acme.example"}

	f.store.rooms[2] = &models.ChatRoom{ID: 2, ClientID: "acme", Status: models.RoomStatusActive}
	f.directory.queued = []models.QueueEntry{{
		TenantID:   "acme",
		RoomID:     2,
		Priority:   models.PriorityHigh,
		Department: "billing",
		EnqueuedAt: time.Now().Add(-time.Minute),
	}}
	f.directory.agent = &models.Agent{
		ID: "ag-1", Source: models.AgentSourceLocal, Name: "Sam",
		Email: "sam@acme.example", Status: "online", MaxConcurrent: 4,
	}

	require.NoError(t, f.svc.CloseConversation(context.Background(), "acme", 1))

	// The waiting room got the freed capacity.
	assert.Empty(t, f.directory.queued)
	assert.Equal(t, "billing", f.directory.lastReq.Department, "the entry's requirements drive selection")
	require.Len(t, f.directory.reserved, 1)

	next := f.store.rooms[2]
	assert.True(t, next.Takeover)
	require.NotNil(t, next.AssignedAgentID)
	assert.Equal(t, uint(99), *next.AssignedAgentID)

	require.Len(t, f.notifier.assigned, 1)
	last := f.store.messages[len(f.store.messages)-1]
	assert.Equal(t, uint(2), last.RoomID)
	assert.Equal(t, models.SenderSystem, last.SenderType)
	assert.Contains(t, last.Content, "You are now connected with Sam")
}

func TestCloseConversation_RequeuesWhenNoAgentFree(t *testing.T) {
	f := newConvoFixture(nil)
	agentID := uint(5)
	f.store.rooms[1].Takeover = true
	f.store.rooms[1].AssignedAgentID = &agentID
	f.store.rooms[1].AssignedAgent = &models.User{ID: 5, Source: models.AgentSourceLocal, Email: "sam@acme.example"}

	f.store.rooms[2] = &models.ChatRoom{ID: 2, ClientID: "acme", Status: models.RoomStatusActive}
	enqueuedAt := time.Now().Add(-time.Minute)
	f.directory.queued = []models.QueueEntry{{TenantID: "acme", RoomID: 2, EnqueuedAt: enqueuedAt}}

	require.NoError(t, f.svc.CloseConversation(context.Background(), "acme", 1))

	// No agent qualified; the entry keeps its place in line.
	require.Len(t, f.directory.queued, 1)
	assert.Equal(t, uint(2), f.directory.queued[0].RoomID)
	assert.Equal(t, enqueuedAt, f.directory.queued[0].EnqueuedAt)
	assert.False(t, f.store.rooms[2].Takeover)
}
