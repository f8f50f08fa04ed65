// Package mongostore is the reference MongoDB mapping of the Session Store
// contract (§6): collections "runs" and "steps", a unique compound index on
// steps.(session_id, sequence), and sequence allocation via
// findOneAndUpdate $inc on a per-session counter document.
//
// This package is wired for completeness of the domain stack but is not
// exercised against a live MongoDB instance in this module's test suite;
// an integration test standing up a real server (e.g. via
// github.com/testcontainers/testcontainers-go) would construct a *Store
// with a *mongo.Client from that container and run the same conformance
// suite memory_test.go runs against store.Memory.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/goa-ai/agentrun/internal/step"
	"github.com/goa-ai/agentrun/internal/store"
	"github.com/goa-ai/agentrun/internal/telemetry"
)

const (
	defaultStepsCollection    = "steps"
	defaultRunsCollection     = "runs"
	defaultCountersCollection = "session_sequence_counters"
	defaultOpTimeout          = 5 * time.Second
)

// Options configures the Store.
type Options struct {
	Client              *mongodriver.Client
	Database            string
	StepsCollection     string
	RunsCollection      string
	CountersCollection  string
	Timeout             time.Duration
	Logger              telemetry.Logger
}

// Store implements store.Store backed by MongoDB.
type Store struct {
	steps    *mongodriver.Collection
	runs     *mongodriver.Collection
	counters *mongodriver.Collection
	timeout  time.Duration
	logger   telemetry.Logger
}

// New constructs a Store and ensures its indexes exist. Indexes:
//   - steps: unique compound (session_id, sequence); secondary on run_id,
//     workflow_id, node_id, created_at.
//   - runs: unique on id; secondary on session_id.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongostore: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongostore: database is required")
	}
	stepsColl := orDefault(opts.StepsCollection, defaultStepsCollection)
	runsColl := orDefault(opts.RunsCollection, defaultRunsCollection)
	countersColl := orDefault(opts.CountersCollection, defaultCountersCollection)
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}

	db := opts.Client.Database(opts.Database)
	s := &Store{
		steps:    db.Collection(stepsColl),
		runs:     db.Collection(runsColl),
		counters: db.Collection(countersColl),
		timeout:  timeout,
		logger:   logger,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("mongostore: ensure indexes: %w", err)
	}
	return s, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stepIndexes := []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "sequence", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "run_id", Value: 1}}},
		{Keys: bson.D{{Key: "workflow_id", Value: 1}}},
		{Keys: bson.D{{Key: "node_id", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: 1}}},
	}
	if _, err := s.steps.Indexes().CreateMany(ctx, stepIndexes); err != nil {
		return err
	}

	runIndexes := []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "session_id", Value: 1}}},
	}
	_, err := s.runs.Indexes().CreateMany(ctx, runIndexes)
	return err
}

type counterDoc struct {
	SessionID string `bson:"session_id"`
	Value     int    `bson:"value"`
}

// AllocateSequence implements store.Store via an atomic update of the
// per-session counter document, which findOneAndUpdate(upsert=true)
// creates on first use: the counter becomes max(counter, persisted max
// sequence) + 1, so it also stays above Steps saved directly (e.g. by a
// fork copy). This is linearizable at the single-document granularity
// MongoDB guarantees.
func (s *Store) AllocateSequence(ctx context.Context, sessionID string) (int, error) {
	maxSeq, err := s.GetMaxSequence(ctx, sessionID)
	if err != nil {
		s.logger.Error(ctx, "mongostore: allocate sequence failed", "session_id", sessionID, "error", err.Error())
		return 0, fmt.Errorf("mongostore: allocate sequence: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	filter := bson.M{"session_id": sessionID}
	ifNull := bson.D{{Key: "$ifNull", Value: bson.A{"$value", 0}}}
	next := bson.D{{Key: "$add", Value: bson.A{bson.D{{Key: "$max", Value: bson.A{ifNull, maxSeq}}}, 1}}}
	update := mongodriver.Pipeline{{{Key: "$set", Value: bson.D{{Key: "value", Value: next}}}}}
	opt := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc counterDoc
	if err := s.counters.FindOneAndUpdate(ctx, filter, update, opt).Decode(&doc); err != nil {
		s.logger.Error(ctx, "mongostore: allocate sequence failed", "session_id", sessionID, "error", err.Error())
		return 0, fmt.Errorf("mongostore: allocate sequence: %w", err)
	}
	return doc.Value, nil
}

// SaveStep implements store.Store: upsert by (session_id, sequence).
func (s *Store) SaveStep(ctx context.Context, st step.Step) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	filter := bson.M{"session_id": st.SessionID, "sequence": st.Sequence}
	update := bson.M{"$set": st}
	_, err := s.steps.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		s.logger.Error(ctx, "mongostore: save step failed", "session_id", st.SessionID, "sequence", st.Sequence, "error", err.Error())
		return fmt.Errorf("mongostore: save step: %w", err)
	}
	return nil
}

// SaveStepsBatch implements store.Store using an unordered bulk write so a
// single failing upsert does not block the rest (atomicity per Step is
// sufficient per §4.1).
func (s *Store) SaveStepsBatch(ctx context.Context, steps []step.Step) error {
	if len(steps) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	models := make([]mongodriver.WriteModel, 0, len(steps))
	for _, st := range steps {
		filter := bson.M{"session_id": st.SessionID, "sequence": st.Sequence}
		models = append(models, mongodriver.NewUpdateOneModel().
			SetFilter(filter).
			SetUpdate(bson.M{"$set": st}).
			SetUpsert(true))
	}
	_, err := s.steps.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("mongostore: save steps batch: %w", err)
	}
	return nil
}

// GetSteps implements store.Store, always sorted ascending by sequence.
func (s *Store) GetSteps(ctx context.Context, sessionID string, filter store.StepFilter) ([]step.Step, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := bson.M{"session_id": sessionID}
	seqRange := bson.M{}
	if filter.StartSeq != 0 {
		seqRange["$gte"] = filter.StartSeq
	}
	if filter.EndSeq != 0 {
		seqRange["$lte"] = filter.EndSeq
	}
	if len(seqRange) > 0 {
		query["sequence"] = seqRange
	}
	if filter.RunID != "" {
		query["run_id"] = filter.RunID
	}
	if filter.WorkflowID != "" {
		query["workflow_id"] = filter.WorkflowID
	}
	if filter.NodeID != "" {
		query["node_id"] = filter.NodeID
	}
	if filter.BranchKey != "" {
		query["branch_key"] = filter.BranchKey
	}
	if filter.RunnableID != "" {
		query["runnable_id"] = filter.RunnableID
	}

	opts := options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	cur, err := s.steps.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: get steps: %w", err)
	}
	defer cur.Close(ctx)

	var out []step.Step
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongostore: decode steps: %w", err)
	}
	return out, nil
}

// GetLastStep implements store.Store.
func (s *Store) GetLastStep(ctx context.Context, sessionID string) (step.Step, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	opts := options.FindOne().SetSort(bson.D{{Key: "sequence", Value: -1}})
	var st step.Step
	err := s.steps.FindOne(ctx, bson.M{"session_id": sessionID}, opts).Decode(&st)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return step.Step{}, store.ErrStepNotFound
	}
	if err != nil {
		return step.Step{}, fmt.Errorf("mongostore: get last step: %w", err)
	}
	return st, nil
}

// GetMaxSequence implements store.Store: 0 if the session has no Steps.
func (s *Store) GetMaxSequence(ctx context.Context, sessionID string) (int, error) {
	last, err := s.GetLastStep(ctx, sessionID)
	if errors.Is(err, store.ErrStepNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return last.Sequence, nil
}

// DeleteSteps implements store.Store.
func (s *Store) DeleteSteps(ctx context.Context, sessionID string, startSeq int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.steps.DeleteMany(ctx, bson.M{"session_id": sessionID, "sequence": bson.M{"$gte": startSeq}})
	if err != nil {
		return 0, fmt.Errorf("mongostore: delete steps: %w", err)
	}
	return int(res.DeletedCount), nil
}

// SaveRun implements store.Store.
func (s *Store) SaveRun(ctx context.Context, r step.Run) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.runs.UpdateOne(ctx, bson.M{"id": r.ID}, bson.M{"$set": r}, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongostore: save run: %w", err)
	}
	return nil
}

// GetRun implements store.Store.
func (s *Store) GetRun(ctx context.Context, runID string) (step.Run, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var r step.Run
	err := s.runs.FindOne(ctx, bson.M{"id": runID}).Decode(&r)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		s.logger.Debug(ctx, "mongostore: run not found", "run_id", runID)
		return step.Run{}, store.ErrRunNotFound
	}
	if err != nil {
		s.logger.Error(ctx, "mongostore: get run failed", "run_id", runID, "error", err.Error())
		return step.Run{}, fmt.Errorf("mongostore: get run: %w", err)
	}
	return r, nil
}

// ListRuns implements store.Store, newest first.
func (s *Store) ListRuns(ctx context.Context, opts store.ListRunsOptions) ([]step.Run, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := bson.M{}
	if opts.SessionID != "" {
		query["session_id"] = opts.SessionID
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	cur, err := s.runs.Find(ctx, query, findOpts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: list runs: %w", err)
	}
	defer cur.Close(ctx)

	var out []step.Run
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongostore: decode runs: %w", err)
	}
	return out, nil
}

// DeleteRun implements store.Store, cascading to Steps only when requested.
func (s *Store) DeleteRun(ctx context.Context, runID string, opts store.DeleteRunOptions) error {
	r, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	delCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.runs.DeleteOne(delCtx, bson.M{"id": runID}); err != nil {
		return fmt.Errorf("mongostore: delete run: %w", err)
	}
	if opts.CascadeSteps && r.SessionID != "" {
		if _, err := s.DeleteSteps(ctx, r.SessionID, 0); err != nil {
			s.logger.Error(ctx, "mongostore: cascade delete failed", "run_id", runID, "session_id", r.SessionID, "error", err.Error())
			return fmt.Errorf("mongostore: cascade delete steps: %w", err)
		}
	}
	return nil
}

// GetStepByToolCallID implements store.Store.
func (s *Store) GetStepByToolCallID(ctx context.Context, sessionID, toolCallID string) (step.Step, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var st step.Step
	query := bson.M{"session_id": sessionID, "role": step.RoleTool, "tool_call_id": toolCallID}
	err := s.steps.FindOne(ctx, query).Decode(&st)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return step.Step{}, store.ErrStepNotFound
	}
	if err != nil {
		return step.Step{}, fmt.Errorf("mongostore: get step by tool call id: %w", err)
	}
	return st, nil
}

// GetLastAssistantContent implements store.Store.
func (s *Store) GetLastAssistantContent(ctx context.Context, sessionID, nodeID, workflowID string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := bson.M{"session_id": sessionID, "role": step.RoleAssistant}
	if nodeID != "" {
		query["node_id"] = nodeID
	}
	if workflowID != "" {
		query["workflow_id"] = workflowID
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "sequence", Value: -1}})
	var st step.Step
	err := s.steps.FindOne(ctx, query, opts).Decode(&st)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("mongostore: get last assistant content: %w", err)
	}
	return st.Content, true, nil
}

var _ store.Store = (*Store)(nil)
