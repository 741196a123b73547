package chat

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tas-support-backend/config"
	"github.com/tas-support-backend/models"
	"github.com/tas-support-backend/services"
)

const (
	historyWindow = 10

	apologyMessage       = "I'm sorry, I'm having trouble answering right now. Please try again in a moment, or ask to speak with a human agent."
	queueFullMessage     = "All our agents are currently busy. You've been added to the queue and someone will be with you shortly."
	agentReminderMessage = "You're already connected with an agent. They'll reply here as soon as possible."
	handoverKeyFlag      = "pendingHandover"
	handoverKeyReason    = "handoverReason"

	// identityPromptType switches the support prompt into identity-collection
	// mode while a handover is pending.
	identityPromptType = "identity"
)

// conversationService runs one customer turn end to end. Turns are serialized
// per room; distinct rooms proceed concurrently.
type conversationService struct {
	cfg       *config.RoutingConfig
	store     services.SessionStore
	query     services.QueryService
	detector  *HandoverDetector
	extractor services.EntityExtractor
	directory services.AgentDirectory
	notifier  services.RealtimeNotifier

	roomLocks sync.Map // roomID -> *sync.Mutex
}

func NewConversationService(
	cfg *config.RoutingConfig,
	store services.SessionStore,
	query services.QueryService,
	detector *HandoverDetector,
	extractor services.EntityExtractor,
	directory services.AgentDirectory,
	notifier services.RealtimeNotifier,
) services.ConversationService {
	return &conversationService{
		cfg:       cfg,
		store:     store,
		query:     query,
		detector:  detector,
		extractor: extractor,
		directory: directory,
		notifier:  notifier,
	}
}

func (s *conversationService) lockRoom(roomID uint) func() {
	value, _ := s.roomLocks.LoadOrStore(roomID, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *conversationService) ProcessMessage(ctx context.Context, tenantID string, roomID uint, content string) (*models.TurnResult, error) {
	unlock := s.lockRoom(roomID)
	defer unlock()

	room, err := s.store.GetRoom(ctx, tenantID, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status != models.RoomStatusActive {
		return nil, fmt.Errorf("room %d is closed", roomID)
	}

	customerMsg := &models.Message{
		RoomID:     room.ID,
		ClientID:   tenantID,
		SenderType: models.SenderCustomer,
		Content:    content,
	}
	if err := s.store.AppendMessage(ctx, customerMsg); err != nil {
		return nil, err
	}
	s.notifier.EmitNewMessage(room, customerMsg)

	entities := s.collectEntities(ctx, tenantID, room, content)

	// Every customer message reaches the agent dashboards, enriched with the
	// collected session facts.
	s.notifier.MirrorToBridge(room, customerMsg, entities)

	history, err := s.store.RecentMessages(ctx, tenantID, roomID, historyWindow)
	if err != nil {
		return nil, err
	}
	// The history window excludes the message being processed.
	if n := len(history); n > 0 && history[n-1].ID == customerMsg.ID {
		history = history[:n-1]
	}

	// An agent owns the room: the AI stays silent. If the customer is still
	// asking for escalation, remind them help is already on the line.
	if room.Takeover && room.AssignedAgentID != nil {
		if decision := s.detector.Detect(content, history, entities); decision != nil && decision.Immediate {
			s.persistSystemMessage(ctx, tenantID, room, agentReminderMessage)
		}
		return &models.TurnResult{CustomerMessage: customerMsg}, nil
	}

	if result, handled := s.arbitrateHandover(ctx, tenantID, room, content, history, entities, customerMsg); handled {
		return result, nil
	}

	return s.answerWithAI(ctx, tenantID, room, content, history, entities, customerMsg)
}

// collectEntities extracts identity facts from the message, merges them into
// the session context, and reflects email/name onto the room row. Extraction
// failures degrade to the already-collected state.
func (s *conversationService) collectEntities(ctx context.Context, tenantID string, room *models.ChatRoom, content string) map[string]any {
	extracted, err := s.extractor.Extract(ctx, content)
	if err != nil {
		log.Printf("[CHAT] Entity extraction failed for room %d: %v", room.ID, err)
		extracted = nil
	}

	var sc *models.SessionContext
	if len(extracted) > 0 {
		sc, err = s.store.MergeEntities(ctx, tenantID, room.ID, extracted)
	} else {
		sc, err = s.store.GetContext(ctx, tenantID, room.ID)
	}
	if err != nil {
		log.Printf("[CHAT] Session context unavailable for room %d: %v", room.ID, err)
		return extracted
	}

	entities := models.EntitiesFromJSON(sc.CollectedEntities)
	s.syncRoomIdentity(ctx, room, entities)
	return entities
}

func (s *conversationService) syncRoomIdentity(ctx context.Context, room *models.ChatRoom, entities map[string]any) {
	changed := false
	if email, _ := entities["email"].(string); email != "" && (room.CustomerEmail == nil || *room.CustomerEmail != email) {
		room.CustomerEmail = &email
		changed = true
	}
	if name, _ := entities["name"].(string); name != "" && (room.CustomerName == nil || *room.CustomerName != name) {
		room.CustomerName = &name
		changed = true
	}
	if changed {
		if err := s.store.UpdateRoom(ctx, room); err != nil {
			log.Printf("[CHAT] Failed to update room identity for room %d: %v", room.ID, err)
		}
	}
}

// arbitrateHandover runs the detector and the pending-handover flag. Returns
// handled=true when the turn ends here (agent assigned or queued). A
// non-immediate verdict only flags the room and lets the turn fall through to
// the AI, which collects identity.
func (s *conversationService) arbitrateHandover(ctx context.Context, tenantID string, room *models.ChatRoom, content string, history []models.Message, entities map[string]any, customerMsg *models.Message) (*models.TurnResult, bool) {
	// A previous turn deferred handover until the customer identified
	// themselves; resolve it as soon as identity arrives.
	if pending, _ := entities[handoverKeyFlag].(bool); pending && hasIdentity(entities) {
		reason, _ := entities[handoverKeyReason].(string)
		if reason == "" {
			reason = models.ReasonAssistedIssue
		}
		s.clearHandoverFlags(ctx, tenantID, room.ID)
		handover := s.assignOrQueue(ctx, tenantID, room, reason, entities)
		return &models.TurnResult{CustomerMessage: customerMsg, Handover: handover}, true
	}

	decision := s.detector.Detect(content, history, entities)
	if decision == nil {
		return nil, false
	}

	if !decision.Immediate {
		// Remember why we are handing over; the AI collects identity this
		// turn and the flag resolves once it arrives.
		if _, err := s.store.MergeEntities(ctx, tenantID, room.ID, map[string]any{
			handoverKeyFlag:   true,
			handoverKeyReason: decision.Reason,
		}); err != nil {
			log.Printf("[CHAT] Failed to flag pending handover for room %d: %v", room.ID, err)
		}
		entities[handoverKeyFlag] = true
		entities[handoverKeyReason] = decision.Reason
		return nil, false
	}

	handover := s.assignOrQueue(ctx, tenantID, room, decision.Reason, entities)
	return &models.TurnResult{CustomerMessage: customerMsg, Handover: handover}, true
}

func (s *conversationService) clearHandoverFlags(ctx context.Context, tenantID string, roomID uint) {
	if _, err := s.store.MergeEntities(ctx, tenantID, roomID, map[string]any{
		handoverKeyFlag:   nil,
		handoverKeyReason: nil,
	}); err != nil {
		log.Printf("[CHAT] Failed to clear handover flags for room %d: %v", roomID, err)
	}
}

// assignOrQueue picks an agent or parks the room in the waiting queue. Either
// way the customer gets a system message explaining what happened.
func (s *conversationService) assignOrQueue(ctx context.Context, tenantID string, room *models.ChatRoom, reason string, entities map[string]any) *models.HandoverResult {
	req := models.AgentRequirements{}
	if s.cfg.SkillBasedRouting {
		if dept, _ := entities["department"].(string); dept != "" {
			req.Department = dept
		}
	}

	agent, err := s.directory.SelectAgent(ctx, tenantID, req)
	if err != nil {
		log.Printf("[CHAT] Agent selection failed for room %d: %v", room.ID, err)
	}
	if agent == nil {
		priority := models.PriorityNormal
		if reason == models.ReasonFrustration {
			priority = models.PriorityHigh
		}
		s.directory.Enqueue(models.QueueEntry{
			TenantID:       tenantID,
			RoomID:         room.ID,
			Priority:       priority,
			Department:     req.Department,
			RequiredSkills: req.RequiredSkills,
			EnqueuedAt:     time.Now(),
			CustomerInfo:   entities,
		})
		s.persistSystemMessage(ctx, tenantID, room, queueFullMessage)
		s.notifier.EmitSessionUpdate(room, map[string]any{"queued": true, "reason": reason})
		return &models.HandoverResult{Reason: reason, Queued: true}
	}

	if err := s.attachAgent(ctx, tenantID, room, *agent); err != nil {
		log.Printf("[CHAT] Failed to attach agent to room %d: %v", room.ID, err)
		return &models.HandoverResult{Reason: reason, Queued: false}
	}
	return &models.HandoverResult{Reason: reason, AssignedAgent: agent}
}

// attachAgent reserves the agent, binds it to the room, and announces the
// takeover to both sides.
func (s *conversationService) attachAgent(ctx context.Context, tenantID string, room *models.ChatRoom, agent models.Agent) error {
	if err := s.directory.ReserveAgent(ctx, agent); err != nil {
		return fmt.Errorf("failed to reserve agent %s: %w", agent.ID, err)
	}

	user, err := s.store.EnsureAgentUser(ctx, tenantID, agent)
	if err != nil {
		if releaseErr := s.directory.ReleaseAgent(ctx, agent); releaseErr != nil {
			log.Printf("[CHAT] Failed to release agent %s after attach error: %v", agent.ID, releaseErr)
		}
		return err
	}

	source := string(agent.Source)
	room.AssignedAgentID = &user.ID
	room.AgentSource = &source
	room.Takeover = true
	if err := s.store.UpdateRoom(ctx, room); err != nil {
		return err
	}

	s.persistSystemMessage(ctx, tenantID, room, fmt.Sprintf("You are now connected with %s. How can they help you today?", agent.Name))
	s.notifier.NotifyAgentAssigned(room, agent)
	s.notifier.EmitSessionUpdate(room, map[string]any{
		"takeover":    true,
		"agentName":   agent.Name,
		"agentSource": source,
	})
	return nil
}

// answerWithAI runs the grounded query path. Failures persist an apology
// message and surface the error; the typing indicator is always cleared.
func (s *conversationService) answerWithAI(ctx context.Context, tenantID string, room *models.ChatRoom, content string, history []models.Message, entities map[string]any, customerMsg *models.Message) (*models.TurnResult, error) {
	s.notifier.EmitTyping(room, string(models.SenderAI), true)
	defer s.notifier.EmitTyping(room, string(models.SenderAI), false)

	pending, _ := entities[handoverKeyFlag].(bool)

	promptEntities := make(map[string]any, len(entities))
	for k, v := range entities {
		if k == handoverKeyFlag || k == handoverKeyReason {
			continue
		}
		promptEntities[k] = v
	}

	opts := models.QueryOptions{
		History: history,
		Context: promptEntities,
	}
	if pending {
		opts.PromptType = identityPromptType
	}

	start := time.Now()
	response, err := s.query.Query(ctx, tenantID, content, opts)
	if err != nil {
		log.Printf("[CHAT] Query failed for room %d: %v", room.ID, err)
		s.persistAIMessage(ctx, tenantID, room, apologyMessage, nil, entities)
		return nil, fmt.Errorf("failed to answer room %d: %w", room.ID, err)
	}

	meta := &models.MessageMetadata{
		Sources:       response.Sources,
		Intent:        response.Intent,
		QueryDuration: time.Since(start).Milliseconds(),
	}
	if response.Confidence != nil {
		conf := float64(*response.Confidence) / 100
		meta.Confidence = &conf
	}

	aiMsg := s.persistAIMessage(ctx, tenantID, room, response.Text, meta, entities)
	return &models.TurnResult{
		CustomerMessage: customerMsg,
		AIMessage:       aiMsg,
		Sources:         response.Sources,
	}, nil
}

func (s *conversationService) persistAIMessage(ctx context.Context, tenantID string, room *models.ChatRoom, content string, meta *models.MessageMetadata, entities map[string]any) *models.Message {
	msg := &models.Message{
		RoomID:     room.ID,
		ClientID:   tenantID,
		SenderType: models.SenderAI,
		Content:    content,
	}
	if meta != nil {
		if data, err := models.ConvertToJSON(meta); err == nil {
			msg.Metadata = data
		}
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		log.Printf("[CHAT] Failed to persist AI message for room %d: %v", room.ID, err)
		return nil
	}
	s.notifier.EmitNewMessage(room, msg)
	s.notifier.MirrorToBridge(room, msg, entities)
	return msg
}

func (s *conversationService) persistSystemMessage(ctx context.Context, tenantID string, room *models.ChatRoom, content string) {
	msg := &models.Message{
		RoomID:     room.ID,
		ClientID:   tenantID,
		SenderType: models.SenderSystem,
		Content:    content,
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		log.Printf("[CHAT] Failed to persist system message for room %d: %v", room.ID, err)
		return
	}
	s.notifier.EmitNewMessage(room, msg)
}

// Escalate forces a handover regardless of detector signals.
func (s *conversationService) Escalate(ctx context.Context, tenantID string, roomID uint) (*models.HandoverResult, error) {
	unlock := s.lockRoom(roomID)
	defer unlock()

	room, err := s.store.GetRoom(ctx, tenantID, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status != models.RoomStatusActive {
		return nil, fmt.Errorf("room %d is closed", roomID)
	}
	if room.Takeover && room.AssignedAgentID != nil {
		return nil, fmt.Errorf("room %d already has an agent", roomID)
	}

	sc, err := s.store.GetContext(ctx, tenantID, roomID)
	if err != nil {
		return nil, err
	}
	entities := models.EntitiesFromJSON(sc.CollectedEntities)
	s.clearHandoverFlags(ctx, tenantID, roomID)
	return s.assignOrQueue(ctx, tenantID, room, models.ReasonExplicitRequest, entities), nil
}

func (s *conversationService) PostAgentMessage(ctx context.Context, tenantID string, roomID uint, agentID uint, content string) (*models.Message, error) {
	unlock := s.lockRoom(roomID)
	defer unlock()

	room, err := s.store.GetRoom(ctx, tenantID, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status != models.RoomStatusActive {
		return nil, fmt.Errorf("room %d is closed", roomID)
	}
	if room.AssignedAgentID == nil || *room.AssignedAgentID != agentID {
		return nil, fmt.Errorf("agent %d is not assigned to room %d", agentID, roomID)
	}

	msg := &models.Message{
		RoomID:     room.ID,
		ClientID:   tenantID,
		SenderType: models.SenderAgent,
		SenderID:   &agentID,
		Content:    content,
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}
	s.notifier.EmitNewMessage(room, msg)
	return msg, nil
}

func (s *conversationService) CloseConversation(ctx context.Context, tenantID string, roomID uint) error {
	released, err := s.closeRoom(ctx, tenantID, roomID)
	if err != nil {
		return err
	}
	// A freed agent goes straight to the next waiting customer.
	if released {
		s.drainQueue(ctx, tenantID)
	}
	return nil
}

// closeRoom releases the room's agent (if any) and marks the room closed.
// Returns whether an agent was freed.
func (s *conversationService) closeRoom(ctx context.Context, tenantID string, roomID uint) (bool, error) {
	unlock := s.lockRoom(roomID)
	defer unlock()

	room, err := s.store.GetRoom(ctx, tenantID, roomID)
	if err != nil {
		return false, err
	}

	released := false
	if room.Takeover && room.AssignedAgent != nil {
		agent := models.Agent{
			ID:     room.AssignedAgent.ExternalID,
			Source: room.AssignedAgent.Source,
			Email:  room.AssignedAgent.Email,
		}
		if agent.Source == models.AgentSourceLocal {
			agent.ID = fmt.Sprintf("%d", room.AssignedAgent.ID)
		}
		if err := s.directory.ReleaseAgent(ctx, agent); err != nil {
			log.Printf("[CHAT] Failed to release agent for room %d: %v", roomID, err)
		} else {
			released = true
		}
	}

	if err := s.store.CloseRoom(ctx, tenantID, roomID); err != nil {
		return released, err
	}
	room.Status = models.RoomStatusClosed
	s.notifier.EmitSessionUpdate(room, map[string]any{"status": "closed"})
	s.roomLocks.Delete(roomID)
	return released, nil
}

// drainQueue hands the tenant's next waiting room to an agent. When
// assignment fails the entry goes back with its original position intact.
func (s *conversationService) drainQueue(ctx context.Context, tenantID string) {
	entry, ok := s.directory.DequeueNext(tenantID)
	if !ok {
		return
	}

	unlock := s.lockRoom(entry.RoomID)
	defer unlock()

	room, err := s.store.GetRoom(ctx, tenantID, entry.RoomID)
	if err != nil {
		log.Printf("[CHAT] Queued room %d unavailable, dropping entry: %v", entry.RoomID, err)
		return
	}
	if room.Status != models.RoomStatusActive || (room.Takeover && room.AssignedAgentID != nil) {
		return
	}

	req := models.AgentRequirements{Department: entry.Department, RequiredSkills: entry.RequiredSkills}
	agent, err := s.directory.SelectAgent(ctx, tenantID, req)
	if err != nil {
		log.Printf("[CHAT] Agent selection failed for queued room %d: %v", entry.RoomID, err)
	}
	if agent == nil {
		s.directory.Enqueue(*entry)
		return
	}
	if err := s.attachAgent(ctx, tenantID, room, *agent); err != nil {
		log.Printf("[CHAT] Failed to attach agent to queued room %d: %v", entry.RoomID, err)
		s.directory.Enqueue(*entry)
	}
}
