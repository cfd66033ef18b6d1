// Copyright 2026 Fieldrover Project
// SPDX-License-Identifier: Apache-2.0

package fieldstore

// InstanceStatus tracks a form submission through its lifecycle. Values are
// monotonic: a lower value always means "less complete", which is what lets
// QueryDataPoints aggregate a record's badge with MIN(status).
type InstanceStatus int

const (
	// InstanceStatusNone is reported for records that have no form instances.
	InstanceStatusNone InstanceStatus = -1

	InstanceSaved           InstanceStatus = 0
	InstanceSubmitRequested InstanceStatus = 1
	InstanceSubmitted       InstanceStatus = 2
	InstanceUploaded        InstanceStatus = 3
	InstanceDownloaded      InstanceStatus = 4
)

// String returns a human-readable name for logging
func (s InstanceStatus) String() string {
	switch s {
	case InstanceStatusNone:
		return "none"
	case InstanceSaved:
		return "saved"
	case InstanceSubmitRequested:
		return "submit_requested"
	case InstanceSubmitted:
		return "submitted"
	case InstanceUploaded:
		return "uploaded"
	case InstanceDownloaded:
		return "downloaded"
	default:
		return "unknown"
	}
}

// known reports whether the status is one this schema version understands.
// Unknown values are tolerated (forward compatibility) and transitions to
// them are no-ops rather than errors.
func (s InstanceStatus) known() bool {
	switch s {
	case InstanceSaved, InstanceSubmitRequested, InstanceSubmitted,
		InstanceUploaded, InstanceDownloaded:
		return true
	default:
		return false
	}
}

// timestampColumn returns the survey_instance column stamped when the
// instance transitions into this status.
func (s InstanceStatus) timestampColumn() (string, bool) {
	switch s {
	case InstanceSaved:
		return "saved_date", true
	case InstanceSubmitRequested:
		return "submitted_date", true
	case InstanceSubmitted:
		return "exported_date", true
	case InstanceUploaded, InstanceDownloaded:
		return "sync_date", true
	default:
		return "", false
	}
}

// TransmissionStatus tracks one queued file artifact. Synced is terminal;
// Failed is retried by the upload collaborator.
type TransmissionStatus int

const (
	TransmissionQueued     TransmissionStatus = 0
	TransmissionInProgress TransmissionStatus = 1
	TransmissionSynced     TransmissionStatus = 2
	TransmissionFailed     TransmissionStatus = 3
)

// String returns a human-readable name for logging
func (s TransmissionStatus) String() string {
	switch s {
	case TransmissionQueued:
		return "queued"
	case TransmissionInProgress:
		return "in_progress"
	case TransmissionSynced:
		return "synced"
	case TransmissionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// unfinished reports whether a transmission in this status still needs to
// reach the server.
func (s TransmissionStatus) unfinished() bool {
	switch s {
	case TransmissionQueued, TransmissionInProgress, TransmissionFailed:
		return true
	default:
		return false
	}
}
