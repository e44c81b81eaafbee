package common

import "time"

// Server endpoint defaults
const DEFAULT_SERVER_HOST = "0.0.0.0"
const DEFAULT_SERVER_PORT = 58000

// Cohort
const COHORT_SIZE = 2

// Wire protocol
const MESSAGE_HEADER_PREFIX = "MESSAGE:"
const MODEL_HEADER_PREFIX = "MODEL:"
const MODEL_RECEIVED_ACK = "MODEL_RECEIVED"
const SERVER_FULL_NOTICE = "Server is full. Try again later."
const UPDATE_LENGTH_PREFIX_SIZE = 4

// Round timing
const ACCEPT_TIMEOUT = 1 * time.Second
const COMPLETION_GRACE = 1 * time.Second
const STATUS_INTERVAL = 10 * time.Second

// Notices broadcast to participants
const TRAINING_COMPLETE_NOTICE = "Training Complete! Closing connections..."

// Events
const PARTICIPANT_ADMITTED_EVENT_TYPE = "ParticipantAdmitted"
const PARTICIPANT_REMOVED_EVENT_TYPE = "ParticipantRemoved"
const ROUND_STATE_CHANGED_EVENT_TYPE = "RoundStateChanged"
const MODEL_SUBMITTED_EVENT_TYPE = "ModelSubmitted"
const ROUND_FINISHED_EVENT_TYPE = "RoundFinished"

// Participant ids
const PARTICIPANT_ID_PREFIX = "client_"
