// Package coordsvc wires every coordinator subsystem into a single facade:
// the messenger, conversation engine, meeting manager, handler registry,
// event bus, metrics registry and tracer, store and database client. A host
// (cmd/coordinatord, cmd/coordinatorctl) constructs exactly one Coordinator
// and drives the entire external API surface through it, mirroring the
// teacher's cmd/tarsy/main.go wiring its service layer from one config and
// one database client.
package coordsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/agentmesh/coordinator/pkg/config"
	"github.com/agentmesh/coordinator/pkg/conversation"
	"github.com/agentmesh/coordinator/pkg/database"
	"github.com/agentmesh/coordinator/pkg/errs"
	"github.com/agentmesh/coordinator/pkg/events"
	"github.com/agentmesh/coordinator/pkg/handler"
	"github.com/agentmesh/coordinator/pkg/meeting"
	"github.com/agentmesh/coordinator/pkg/messenger"
	"github.com/agentmesh/coordinator/pkg/metrics"
	"github.com/agentmesh/coordinator/pkg/models"
	"github.com/agentmesh/coordinator/pkg/store"
	"github.com/agentmesh/coordinator/pkg/telemetry"
	"github.com/agentmesh/coordinator/pkg/waiter"
	"github.com/google/uuid"
)

// Coordinator is the coordinator process's top-level object. Build one with
// New, register handlers on it, and let hosts drive messaging/conversation/
// meeting operations through its methods.
type Coordinator struct {
	DB *database.Client

	Store        *store.Store
	Handlers     *handler.Registry
	Bus          *events.Bus
	Waiters      *waiter.Table
	Messenger    *messenger.Messenger
	Conversation *conversation.Engine
	Meeting      *meeting.Manager
	Metrics      *metrics.Registry
	Tracer       telemetry.Tracer
}

// New connects to the database, runs migrations, and wires every subsystem
// together from cfg. The caller owns the returned Coordinator's lifetime and
// must call Shutdown when done.
func New(ctx context.Context, cfg *config.Config) (*Coordinator, error) {
	db, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return newFromClient(db, cfg), nil
}

func newFromClient(db *database.Client, cfg *config.Config) *Coordinator {
	s := store.New(db.Pool)

	var m *metrics.Registry
	if cfg.MetricsEnabled {
		m = metrics.New(metrics.Config{})
	}

	var tracer telemetry.Tracer
	if cfg.TracingEnabled {
		tracer = telemetry.New()
	}

	h := handler.NewRegistry(cfg.Handler.InvokeSyncDeadline, cfg.Handler.DetachedDeadline, m)
	bus := events.NewBus(m)
	waiters := waiter.NewTable()

	msgr := messenger.New(s, h)
	conv := conversation.New(db.Pool, s, h, waiters, m, tracer, cfg.Conversation.DefaultTimeout, cfg.Conversation.MaxTimeout, cfg.Conversation.FastPathDeadline)
	mtg := meeting.New(db.Pool, s, h, bus, m, tracer, cfg.Meeting.DefaultTurnDuration, cfg.Meeting.MaxTurnDuration, cfg.Meeting.MaxParticipants)

	return &Coordinator{
		DB: db, Store: s, Handlers: h, Bus: bus, Waiters: waiters,
		Messenger: msgr, Conversation: conv, Meeting: mtg, Metrics: m, Tracer: tracer,
	}
}

// Shutdown awaits outstanding detached handler invocations and the meeting
// manager's turn-timeout supervisor, then closes the database pool. Order
// matters: handlers and timers must drain before the pool they depend on is
// torn down.
func (c *Coordinator) Shutdown() {
	c.Meeting.Shutdown()
	c.Handlers.Shutdown()
	c.DB.Close()
}

// RegisterOrganization creates an organization, the root of an agent
// namespace (spec.md §3).
func (c *Coordinator) RegisterOrganization(ctx context.Context, externalID, name string) (*models.Organization, error) {
	return c.Store.CreateOrganization(ctx, externalID, name)
}

// RegisterAgent creates an agent under an existing organization, resolved
// by its external_id.
func (c *Coordinator) RegisterAgent(ctx context.Context, orgExternalID, agentExternalID, name string) (*models.Agent, error) {
	org, err := c.Store.GetOrganizationByExternalID(ctx, orgExternalID)
	if err != nil {
		return nil, err
	}
	return c.Store.CreateAgent(ctx, agentExternalID, name, org.ID)
}

// SendOneWay implements spec.md §4.5's fire-and-forget messaging pattern.
func (c *Coordinator) SendOneWay(ctx context.Context, senderExternalID string, recipientExternalIDs []string, content, metadata map[string]any) ([]uuid.UUID, error) {
	return c.Messenger.Send(ctx, senderExternalID, recipientExternalIDs, content, metadata)
}

// SendAndWait implements spec.md §4.6's blocking request/reply pattern.
func (c *Coordinator) SendAndWait(ctx context.Context, senderExt, recipientExt string, msg any, timeout time.Duration, metadata map[string]any) (any, error) {
	return c.Conversation.SendAndWait(ctx, senderExt, recipientExt, msg, timeout, metadata)
}

// SendNoWait implements spec.md §4.6's non-blocking send pattern.
func (c *Coordinator) SendNoWait(ctx context.Context, senderExt, recipientExt string, msg any, metadata map[string]any) (uuid.UUID, error) {
	return c.Conversation.SendNoWait(ctx, senderExt, recipientExt, msg, metadata)
}

// GetOrWaitForResponse implements spec.md §4.6's queue-then-wait read pattern.
func (c *Coordinator) GetOrWaitForResponse(ctx context.Context, receiverExt, senderExt string, timeout time.Duration) (*models.Message, error) {
	return c.Conversation.GetOrWaitForResponse(ctx, receiverExt, senderExt, timeout)
}

// EndConversation implements spec.md §4.6's end_conversation.
func (c *Coordinator) EndConversation(ctx context.Context, aExt, bExt string) error {
	return c.Conversation.EndConversation(ctx, aExt, bExt)
}

// CreateMeeting implements spec.md §4.7's create_meeting.
func (c *Coordinator) CreateMeeting(ctx context.Context, hostExt string, participantExts []string, turnDuration *time.Duration) (*models.Meeting, error) {
	return c.Meeting.CreateMeeting(ctx, hostExt, participantExts, turnDuration)
}

// AttendMeeting implements spec.md §4.7's attend_meeting.
func (c *Coordinator) AttendMeeting(ctx context.Context, agentExt string, meetingID uuid.UUID) error {
	return c.Meeting.AttendMeeting(ctx, agentExt, meetingID)
}

// StartMeeting implements spec.md §4.7's start_meeting.
func (c *Coordinator) StartMeeting(ctx context.Context, hostExt string, meetingID uuid.UUID) error {
	return c.Meeting.StartMeeting(ctx, hostExt, meetingID)
}

// Speak implements spec.md §4.7's speak, including the wait_for_turn parking
// loop described in SPEC_FULL.md's Open Question decisions.
func (c *Coordinator) Speak(ctx context.Context, agentExt string, meetingID uuid.UUID, msg any, metadata map[string]any, waitForTurn bool) (uuid.UUID, []models.Message, error) {
	return c.Meeting.Speak(ctx, agentExt, meetingID, msg, metadata, waitForTurn)
}

// LeaveMeeting implements spec.md §4.7's leave_meeting.
func (c *Coordinator) LeaveMeeting(ctx context.Context, agentExt string, meetingID uuid.UUID) error {
	return c.Meeting.LeaveMeeting(ctx, agentExt, meetingID)
}

// EndMeeting implements spec.md §4.7's end_meeting.
func (c *Coordinator) EndMeeting(ctx context.Context, hostExt string, meetingID uuid.UUID) error {
	return c.Meeting.EndMeeting(ctx, hostExt, meetingID)
}

// GetMeeting and ListParticipants are the read-only operations SPEC_FULL.md
// adds to §4.7 for hosts that need to display meeting status.
func (c *Coordinator) GetMeeting(ctx context.Context, meetingID uuid.UUID) (*models.Meeting, error) {
	return c.Store.GetMeeting(ctx, meetingID)
}

func (c *Coordinator) ListParticipants(ctx context.Context, meetingID uuid.UUID) ([]models.MeetingParticipant, error) {
	return c.Store.ListParticipants(ctx, meetingID)
}

// RegisterHandler registers the process-wide callback for kind (spec.md
// §4.2). Re-registering a kind replaces its prior callback.
func (c *Coordinator) RegisterHandler(kind handler.Kind, cb handler.Callback) {
	c.Handlers.Register(kind, cb)
}

// Subscribe registers an event-bus subscriber for t, labeled for metrics/log
// correlation (spec.md §4.3).
func (c *Coordinator) Subscribe(t events.Type, label string, sub events.Subscriber) {
	c.Bus.Subscribe(t, label, sub)
}

// Health reports whether the coordinator's database pool is reachable, for
// a host's readiness probe.
func (c *Coordinator) Health(ctx context.Context) error {
	if err := c.DB.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrPersistence, err)
	}
	return nil
}
