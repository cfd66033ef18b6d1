// Copyright 2026 Fieldrover Project
// SPDX-License-Identifier: Apache-2.0

package fieldstore

// Row models for the on-device tables. Timestamps are unix milliseconds;
// zero means the column is NULL on disk (the event has not happened yet).

// SurveyGroup is a collection of related forms. Monitored groups are visited
// repeatedly (longitudinal data collection); non-monitored groups are one-off.
type SurveyGroup struct {
	ID                 int64
	Name               string
	RegistrationFormID string
	Monitored          bool
	Viewed             bool
}

// Survey is form definition metadata. Rows are replaced wholesale on
// re-download and soft-deleted so submission history stays traceable.
type Survey struct {
	ID       string
	GroupID  int64
	Name     string
	Version  float64
	Language string
	Deleted  bool
}

// SurveyInstance is one filled-in occurrence of a form, tied to one record.
type SurveyInstance struct {
	ID            int64
	UUID          string
	SurveyID      string
	RecordID      string
	UserID        string
	Submitter     string
	StartDate     int64
	SavedDate     int64
	SubmittedDate int64
	ExportedDate  int64
	SyncDate      int64
	Duration      int64 // accumulated fill time, milliseconds
	Status        InstanceStatus
	Version       float64 // form version captured at submission time
}

// Response is a single question answer within a form instance.
//
// Iteration is -1 for non-repeated questions. The first answer to a repeated
// question group also starts at -1; the moment a second answer is appended
// the first is retagged to 0 and the new one becomes 1 (see
// AppendIterationResponse).
type Response struct {
	ID         int64
	InstanceID int64
	QuestionID string
	Answer     string
	Type       string
	Include    bool
	Filename   string
	Iteration  int
}

// DataPoint is a real-world entity being surveyed (household, well, school),
// the anchor for one or more form instances. Latitude/Longitude are nil for
// records captured without a location fix.
type DataPoint struct {
	RecordID     string
	GroupID      int64
	Name         string
	Latitude     *float64
	Longitude    *float64
	LastModified int64
	Viewed       bool

	// Status is the minimum (least complete) status across the record's
	// form instances, or InstanceStatusNone when it has none. Populated by
	// QueryDataPoints only.
	Status InstanceStatus
}

// Transmission is one file artifact queued for delivery to the server.
type Transmission struct {
	ID         int64
	InstanceID int64
	FormID     string
	Filename   string
	Status     TransmissionStatus
	StartDate  int64
	EndDate    int64
}

// SentinelInstanceID marks transmissions discovered before any form instance
// was associated with them (e.g. files left over from a crashed run).
const SentinelInstanceID int64 = -1
