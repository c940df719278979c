package simulator

// EventType distinguishes the four (plus machine recovery) kinds of
// events the simulator drives, priority-ordered on equal timestamps per
// spec.md §4.4: machine_failure = machine_recovery < task_completion <
// job_arrival < scheduler_activation, with failures and recoveries at the
// same time taken in insertion order. Completions free resources before
// the next scheduler cycle runs; failures (and recoveries) are observed
// before completions on the same machine.
type EventType int

const (
	EventMachineFailure EventType = iota
	EventMachineRecovery
	EventTaskCompletion
	EventJobArrival
	EventSchedulerActivation
)

// ActivationPhase distinguishes the two halves of a scheduler's decision
// cycle that span its decision-latency window: the instant it pulls a job
// off its queue and builds a transaction, and the instant (decision
// latency later) that transaction actually commits. Splitting them into
// two events is what lets other events interleave during the window, per
// §4.4. A third phase, requeue, is the delayed retry activation that puts
// a job whose transaction conflicted back into its scheduler's queue.
type ActivationPhase string

const (
	PhaseStart   ActivationPhase = "start"
	PhaseCommit  ActivationPhase = "commit"
	PhaseRequeue ActivationPhase = "requeue"
)

// Event is one entry in the simulator's event queue.
type Event struct {
	Time float64
	Type EventType
	Seq  int64 // insertion sequence, the final deterministic tie-break

	JobID       string
	TaskID      string
	MachineID   string
	SchedulerID string
	Phase       ActivationPhase
}

// eventHeap is a container/heap binary min-heap ordered by (Time,
// typePriority, Seq), mirroring inference-sim's ClusterEventQueue shape
// ("events from all instances are processed in global timestamp order;
// ties are broken by lowest instance index for determinism") with type
// priority as the intermediate tie-break spec.md §4.4 fixes by event
// kind.
type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].Time != h[j].Time {
		return h[i].Time < h[j].Time
	}
	pi, pj := typePriority(h[i].Type), typePriority(h[j].Type)
	if pi != pj {
		return pi < pj
	}
	return h[i].Seq < h[j].Seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(*Event)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func typePriority(t EventType) int {
	switch t {
	case EventMachineFailure, EventMachineRecovery:
		return 0
	case EventTaskCompletion:
		return 1
	case EventJobArrival:
		return 2
	default: // EventSchedulerActivation
		return 3
	}
}
