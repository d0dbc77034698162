// Package swarm implements the emergent voting coordination protocol:
// N agents iterate over a pheromone-weighted stigmergy
// trail, each tagging its response with a vote and a confidence, until a
// weighted consensus score crosses the convergence threshold or the
// iteration cap is hit. Unlike roundtable there is no fixed synthesizer;
// the consensus author is chosen dynamically by pheromone authority.
package swarm

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/errs"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/fanout"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/observability"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/sessionstore"
	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

// Protocol bounds.
const (
	MinAgents           = 2
	MaxAgents           = 12
	MaxIterations       = 10
	DefaultAgentTimeout = 60 * time.Second
	DefaultTotalTimeout = 600 * time.Second
	DefaultConvergence  = 0.7
	MinConvergence      = 0.3

	majorityWeight   = 0.6
	confidenceWeight = 0.4

	trailTrimLen = 300
)

// VoteTag is the structured stance an agent declares on the current trail.
type VoteTag string

const (
	VoteAgree    VoteTag = "agree"
	VoteDisagree VoteTag = "disagree"
	VoteExtend   VoteTag = "extend"
	VotePivot    VoteTag = "pivot"
)

// AgentCaller dispatches one prompt to one agent and returns its raw
// response. Shared shape with internal/roundtable.AgentCaller so callers
// can wire both protocols off the same adapter.
type AgentCaller interface {
	Call(ctx context.Context, agentID, prompt string) (string, error)
}

// AgentCallerFunc adapts a function to an AgentCaller.
type AgentCallerFunc func(ctx context.Context, agentID, prompt string) (string, error)

func (f AgentCallerFunc) Call(ctx context.Context, agentID, prompt string) (string, error) {
	return f(ctx, agentID, prompt)
}

// ScoreUpdater records a participant's performance after the run
// completes. Signature-compatible with router.Tracker.UpdateScores.
type ScoreUpdater interface {
	UpdateScores(ctx context.Context, agentID string, success bool, durationMS int64, tokenCost float64) (float64, error)
}

// Options configures one Converge call.
type Options struct {
	MaxIterations        int
	ConvergenceThreshold float64
	AgentTimeout         time.Duration
	TotalTimeout         time.Duration
	OnIteration          func(it Iteration)
}

// Vote is one agent's contribution in one iteration.
type Vote struct {
	AgentID    string
	Iteration  int
	Content    string
	Tag        VoteTag
	Confidence float64
	Err        error
	Timeout    bool
}

// Iteration is one round of voting plus its computed consensus score.
type Iteration struct {
	Index          int
	Votes          []Vote
	Majority       VoteTag
	MajorityCount  int
	ConsensusScore float64
	Converged      bool
}

// Result is Converge's return value.
type Result struct {
	SessionID     string
	Iterations    []Iteration
	Consensus     string
	Converged     bool
	SynthesizerID string
}

// Coordinator runs Swarm voting rounds.
type Coordinator struct {
	store  sessionstore.Store
	caller AgentCaller
	scores ScoreUpdater
	now    func() time.Time
}

// New builds a Coordinator.
func New(store sessionstore.Store, caller AgentCaller, scores ScoreUpdater) *Coordinator {
	return &Coordinator{store: store, caller: caller, scores: scores, now: time.Now}
}

func trim(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func phaseLabel(iteration, maxIterations int) string {
	switch {
	case iteration == 1:
		return "EXPLORE"
	case iteration == maxIterations:
		return "FINALIZE"
	default:
		return "CONVERGE"
	}
}

// Converge runs the full protocol: creates a swarm session,
// iterates parallel tagged voting over the pheromone-sorted trail, stops
// once the weighted consensus score crosses the threshold, then has the
// highest-authority participant write the consensus.
func (c *Coordinator) Converge(ctx context.Context, topic string, agentIDs []string, opts Options) (*Result, error) {
	if len(agentIDs) < MinAgents || len(agentIDs) > MaxAgents {
		return nil, errs.New(errs.KindValidation, "invalid-agent-count", "swarm requires %d-%d agents, got %d", MinAgents, MaxAgents, len(agentIDs))
	}
	maxIter := opts.MaxIterations
	if maxIter <= 0 || maxIter > MaxIterations {
		maxIter = MaxIterations
	}
	threshold := opts.ConvergenceThreshold
	if threshold <= 0 {
		threshold = DefaultConvergence
	}
	if threshold < MinConvergence || threshold > 1 {
		return nil, errs.New(errs.KindValidation, "invalid-threshold", "consensus threshold must be in [%.1f, 1.0], got %.2f", MinConvergence, threshold)
	}
	agentTimeout := opts.AgentTimeout
	if agentTimeout <= 0 {
		agentTimeout = DefaultAgentTimeout
	}
	totalTimeout := opts.TotalTimeout
	if totalTimeout <= 0 {
		totalTimeout = DefaultTotalTimeout
	}

	now := c.now()
	sess := &models.Session{
		ID:        uuid.NewString(),
		Type:      models.SessionSwarm,
		Title:     "Swarm: " + trim(topic, 80),
		Status:    models.SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.CreateSession(ctx, sess); err != nil {
		return nil, errs.Wrap(errs.KindSession, "create-swarm-session", err)
	}
	ctx, span := observability.StartCoordinationSpan(ctx, "swarm", sess.ID, len(agentIDs))
	defer span.End()

	deadline := now.Add(totalTimeout)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var iterations []Iteration
	var trail []Vote
	durations := map[string][]time.Duration{}
	converged := false

	for it := 1; it <= maxIter; it++ {
		if runCtx.Err() != nil {
			break
		}
		pheromones := c.loadPheromones(ctx, agentIDs)
		prompt := buildIterationPrompt(topic, it, maxIter, buildTrail(trail, pheromones))

		tasks := make([]fanout.Task, len(agentIDs))
		for i, agentID := range agentIDs {
			agentID := agentID
			tasks[i] = fanout.Task{
				AgentID: agentID,
				Run: func(ctx context.Context) (string, error) {
					return c.caller.Call(ctx, agentID, prompt)
				},
			}
		}

		results := fanout.Run(runCtx, tasks, agentTimeout)
		votes := make([]Vote, 0, len(results))
		for _, r := range results {
			v := Vote{AgentID: r.AgentID, Iteration: it, Timeout: r.Timeout, Err: r.Err}
			content := r.Content
			switch {
			case r.Timeout:
				content = fmt.Sprintf("[%s timed out]", r.AgentID)
			case r.Err != nil:
				content = fmt.Sprintf("[%s error]", r.AgentID)
			default:
				v.Tag, v.Confidence = parseVote(r.Content)
				durations[r.AgentID] = append(durations[r.AgentID], r.Latency)
			}
			v.Content = content
			votes = append(votes, v)

			msg := models.Message{
				ID:        uuid.NewString(),
				SessionID: sess.ID,
				Role:      models.SwarmRole(it),
				Content:   content,
				Metadata:  map[string]any{"agent_id": r.AgentID, "vote": string(v.Tag), "confidence": v.Confidence},
				CreatedAt: c.now(),
			}
			if err := c.store.AppendMessage(ctx, &msg); err != nil {
				return nil, errs.Wrap(errs.KindSession, "persist-swarm-vote", err)
			}
		}

		majority, majorityCount := tally(votes)
		score := consensusScore(votes, majority, majorityCount)
		iteration := Iteration{
			Index:          it,
			Votes:          votes,
			Majority:       majority,
			MajorityCount:  majorityCount,
			ConsensusScore: score,
			Converged:      score >= threshold,
		}
		iterations = append(iterations, iteration)
		if opts.OnIteration != nil {
			opts.OnIteration(iteration)
		}

		for _, v := range votes {
			if v.Err == nil && !v.Timeout {
				trail = append(trail, v)
			}
		}

		if iteration.Converged {
			converged = true
			break
		}
	}

	synthesizerID, consensus := c.buildConsensus(runCtx, topic, agentIDs, trail, iterations)

	consensusMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Role:      models.RoleConsensus,
		Content:   consensus,
		Metadata:  map[string]any{"converged": converged, "synthesizer_id": synthesizerID},
		CreatedAt: c.now(),
	}
	_ = c.store.AppendMessage(ctx, consensusMsg)

	if c.scores != nil {
		for agentID, mean := range meanConfidenceByAgent(trail) {
			ds := durations[agentID]
			var sum time.Duration
			for _, d := range ds {
				sum += d
			}
			var avg time.Duration
			if len(ds) > 0 {
				avg = sum / time.Duration(len(ds))
			}
			_, _ = c.scores.UpdateScores(ctx, agentID, mean > 0.5, avg.Milliseconds(), 0)
		}
	}

	ended := c.now()
	sess.Status = models.SessionEnded
	sess.EndedAt = &ended
	sess.UpdatedAt = ended
	_ = c.store.UpdateSession(ctx, sess)

	return &Result{
		SessionID:     sess.ID,
		Iterations:    iterations,
		Consensus:     consensus,
		Converged:     converged,
		SynthesizerID: synthesizerID,
	}, nil
}

// loadPheromones reads the current persisted score for each participant,
// defaulting absent agents to the cold-start value.
func (c *Coordinator) loadPheromones(ctx context.Context, agentIDs []string) map[string]float64 {
	out := make(map[string]float64, len(agentIDs))
	for _, id := range agentIDs {
		out[id] = models.ColdStartPheromoneScore
	}
	agents, err := c.store.LoadAgents(ctx)
	if err != nil {
		return out
	}
	for _, a := range agents {
		if _, ok := out[a.AgentID]; ok {
			out[a.AgentID] = a.PheromoneScore
		}
	}
	return out
}

// buildTrail renders the stigmergy context: all prior votes sorted by
// their author's pheromone descending, each prefixed with an authority
// marker and trimmed.
func buildTrail(trail []Vote, pheromones map[string]float64) []string {
	sorted := append([]Vote{}, trail...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return pheromones[sorted[i].AgentID] > pheromones[sorted[j].AgentID]
	})
	out := make([]string, 0, len(sorted))
	for _, v := range sorted {
		out = append(out, fmt.Sprintf("%s [%s i%d vote=%s conf=%.2f] %s",
			trailMarker(pheromones[v.AgentID]), v.AgentID, v.Iteration, v.Tag, v.Confidence, trim(v.Content, trailTrimLen)))
	}
	return out
}

func trailMarker(pheromone float64) string {
	switch {
	case pheromone > 0.7:
		return "★"
	case pheromone > 0.4:
		return "●"
	default:
		return "○"
	}
}

func buildIterationPrompt(topic string, iteration, maxIterations int, trail []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Swarm phase %s (iteration %d) on: %s\n", phaseLabel(iteration, maxIterations), iteration, topic)
	if len(trail) > 0 {
		b.WriteString("Trail (highest authority first):\n")
		for _, t := range trail {
			b.WriteString(t)
			b.WriteByte('\n')
		}
	}
	b.WriteString("State your position, then tag it with [VOTE: agree|disagree|extend|pivot] and [CONFIDENCE: 0.0-1.0].")
	return b.String()
}

var (
	voteTagRe    = regexp.MustCompile(`(?i)\[\s*VOTE:\s*(agree|disagree|extend|pivot)\s*\]`)
	confidenceRe = regexp.MustCompile(`(?i)\[\s*CONFIDENCE:\s*([0-9]*\.?[0-9]+)\s*\]`)

	agreeWords    = regexp.MustCompile(`(?i)\b(agree|yes|support|concur|correct|exactly|absolutely)\b`)
	disagreeWords = regexp.MustCompile(`(?i)\b(disagree|no|wrong|oppose|object|flawed|however)\b`)
)

// parseVote extracts the [VOTE:] and [CONFIDENCE:] tags from a raw
// response. When a tag is missing the response is scored heuristically by
// polarity-word count, with confidence clamped to [0.5, 0.9] and the tag
// defaulting to extend on a tie.
func parseVote(raw string) (VoteTag, float64) {
	tag := VoteTag("")
	if m := voteTagRe.FindStringSubmatch(raw); m != nil {
		tag = VoteTag(strings.ToLower(m[1]))
	}
	confidence := -1.0
	if m := confidenceRe.FindStringSubmatch(raw); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			confidence = clamp(f, 0, 1)
		}
	}

	if tag != "" && confidence >= 0 {
		return tag, confidence
	}

	agree := len(agreeWords.FindAllString(raw, -1))
	disagree := len(disagreeWords.FindAllString(raw, -1))
	if tag == "" {
		switch {
		case agree > disagree:
			tag = VoteAgree
		case disagree > agree:
			tag = VoteDisagree
		default:
			tag = VoteExtend
		}
	}
	if confidence < 0 {
		diff := agree - disagree
		if diff < 0 {
			diff = -diff
		}
		confidence = clamp(0.5+0.1*float64(diff), 0.5, 0.9)
	}
	return tag, confidence
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// tally finds the plurality vote tag for one iteration.
func tally(votes []Vote) (majority VoteTag, count int) {
	counts := map[VoteTag]int{}
	for _, v := range votes {
		if v.Tag == "" {
			continue
		}
		counts[v.Tag]++
	}
	for tag, n := range counts {
		if n > count {
			majority, count = tag, n
		}
	}
	return majority, count
}

// consensusScore is the weighted convergence formula:
// 0.6 * majority fraction + 0.4 * mean confidence of the majority voters.
// An iteration with no successful votes scores 0.
func consensusScore(votes []Vote, majority VoteTag, majorityCount int) float64 {
	total := 0
	var sumConfidence float64
	var n int
	for _, v := range votes {
		if v.Tag == "" {
			continue
		}
		total++
		if v.Tag == majority {
			sumConfidence += v.Confidence
			n++
		}
	}
	if total == 0 || n == 0 {
		return 0
	}
	majorityFraction := float64(majorityCount) / float64(total)
	meanConfidence := sumConfidence / float64(n)
	return majorityWeight*majorityFraction + confidenceWeight*meanConfidence
}

// buildConsensus picks the synthesizer by combined authority
// (0.6*pheromone + 0.4*best confidence across its votes) and asks it to
// merge the trail, falling back to a deterministic vote-distribution
// summary when no agent voted or the synthesizer call fails.
func (c *Coordinator) buildConsensus(ctx context.Context, topic string, agentIDs []string, trail []Vote, iterations []Iteration) (string, string) {
	if len(trail) == 0 {
		return "", fallbackConsensus(iterations)
	}

	pheromones := c.loadPheromones(ctx, agentIDs)
	bestConfidence := map[string]float64{}
	for _, v := range trail {
		if v.Confidence > bestConfidence[v.AgentID] {
			bestConfidence[v.AgentID] = v.Confidence
		}
	}
	synthesizerID := ""
	best := -1.0
	for _, id := range agentIDs {
		conf, voted := bestConfidence[id]
		if !voted {
			continue
		}
		combined := 0.6*pheromones[id] + 0.4*conf
		if combined > best {
			best, synthesizerID = combined, id
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The swarm deliberated on: %s\nFull trail (highest authority first):\n", topic)
	for _, line := range buildTrail(trail, pheromones) {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("Merge these positions into one consensus, weighing contributions by their authority markers, and note any remaining dissent.")

	content, err := c.caller.Call(ctx, synthesizerID, b.String())
	if err != nil || strings.TrimSpace(content) == "" {
		return synthesizerID, fallbackConsensus(iterations)
	}
	return synthesizerID, content
}

// fallbackConsensus summarizes the final iteration's vote distribution and
// its highest-confidence snippets when no synthesized consensus exists.
func fallbackConsensus(iterations []Iteration) string {
	if len(iterations) == 0 {
		return "[consensus unavailable: no iterations completed]"
	}
	last := iterations[len(iterations)-1]
	counts := map[VoteTag]int{}
	var voted []Vote
	for _, v := range last.Votes {
		if v.Tag == "" {
			continue
		}
		counts[v.Tag]++
		voted = append(voted, v)
	}
	if len(voted) == 0 {
		return "[consensus unavailable: no votes recorded]"
	}

	var b strings.Builder
	b.WriteString("[synthesizer unavailable — final vote distribution follows]\n")
	for _, tag := range []VoteTag{VoteAgree, VoteDisagree, VoteExtend, VotePivot} {
		if counts[tag] > 0 {
			fmt.Fprintf(&b, "%s: %d\n", tag, counts[tag])
		}
	}
	sort.SliceStable(voted, func(i, j int) bool { return voted[i].Confidence > voted[j].Confidence })
	if len(voted) > 3 {
		voted = voted[:3]
	}
	for _, v := range voted {
		fmt.Fprintf(&b, "- %s (%.2f): %s\n", v.AgentID, v.Confidence, trim(v.Content, trailTrimLen))
	}
	return b.String()
}

// meanConfidenceByAgent averages each voting agent's confidence across the
// run, driving the post-run success signal.
func meanConfidenceByAgent(trail []Vote) map[string]float64 {
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, v := range trail {
		sums[v.AgentID] += v.Confidence
		counts[v.AgentID]++
	}
	out := make(map[string]float64, len(sums))
	for id, sum := range sums {
		out[id] = sum / float64(counts[id])
	}
	return out
}
