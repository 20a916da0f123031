package pipeline

import "time"

// State is the lifecycle position of one artifact within a run.
type State string

const (
	StateWaiting     State = "waiting"
	StateBuilding    State = "building"
	StateBuilt       State = "built"
	StateDeploying   State = "deploying"
	StateRegistering State = "registering"
	StateDone        State = "done"
	StateError       State = "error"
)

// Terminal reports whether no further transition can leave the state.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

var transitions = map[State][]State{
	StateWaiting:     {StateBuilding, StateError},
	StateBuilding:    {StateBuilt, StateError},
	StateBuilt:       {StateDeploying, StateDone, StateError},
	StateDeploying:   {StateRegistering, StateDone, StateError},
	StateRegistering: {StateDone, StateError},
}

// CanTransition reports whether next may follow s. Staying in the same
// non-terminal state is always allowed.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Phase names the step an artifact failed in.
type Phase string

const (
	PhaseDependency Phase = "dependency"
	PhaseBuild      Phase = "build"
	PhaseDeploy     Phase = "deploy"
	PhasePublish    Phase = "publish"
	PhaseRegister   Phase = "register"
)

// BuildProgress mirrors the build driver's latest progress event.
type BuildProgress struct {
	Compiled int    `json:"compiled"`
	Total    int    `json:"total"`
	Current  string `json:"current,omitempty"`
}

// ContractStatus is the observable state of one artifact.
type ContractStatus struct {
	Name        string `json:"name"`
	State       State  `json:"state"`
	Error       string `json:"error,omitempty"`
	FailedPhase Phase  `json:"failed_phase,omitempty"`

	BuildProgress BuildProgress `json:"build_progress"`
	Duration      time.Duration `json:"duration,omitempty"`

	Address           string `json:"address,omitempty"`
	DeployTxHash      string `json:"deploy_tx_hash,omitempty"`
	DeployBlockHash   string `json:"deploy_block_hash,omitempty"`
	CID               string `json:"cid,omitempty"`
	PublishTxHash     string `json:"publish_tx_hash,omitempty"`
	PublishBlockHash  string `json:"publish_block_hash,omitempty"`
	RegisterTxHash    string `json:"register_tx_hash,omitempty"`
	RegisterBlockHash string `json:"register_block_hash,omitempty"`

	DeployInProgress   bool `json:"deploy_in_progress,omitempty"`
	PublishInProgress  bool `json:"publish_in_progress,omitempty"`
	RegisterInProgress bool `json:"register_in_progress,omitempty"`
}

// Deployed reports whether the artifact reached the ledger, including the
// partial-failure case where registration later failed.
func (s ContractStatus) Deployed() bool {
	return s.Address != ""
}

func (s *ContractStatus) clearInProgress() {
	s.DeployInProgress = false
	s.PublishInProgress = false
	s.RegisterInProgress = false
}

func cloneStatuses(in map[string]ContractStatus) map[string]ContractStatus {
	out := make(map[string]ContractStatus, len(in))
	for name, status := range in {
		out[name] = status
	}
	return out
}
