package enclaverpc

// Path constants for the RPC routes composition and attestation share
// between the host (cmd/host-api, cmd/worker) and the enclave
// (cmd/enclave-runtime). Token exchange/revoke paths live alongside
// their callers in internal/connector; these cover the remaining
// signed-RPC surface: assistant-query processing, morning-brief and
// urgent-email composition, automation execution, and the attestation
// challenge itself.
const (
	PathAttestedKey         = "/v1/attested-key"
	PathAssistantQuery      = "/v1/assistant-query"
	PathBriefCompose        = "/v1/brief/compose"
	PathUrgentEmailCompose  = "/v1/urgent-email/compose"
	PathAutomationExecute   = "/v1/automation/execute"
	PathAttestationChallenge = "/v1/attestation/challenge"
)
