// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

// Logger provides structured logging for the scoring platform. Every entry
// carries the component name plus the scenario and job identifiers so that
// one scoring job's lifecycle can be filtered out of interleaved output.
type Logger struct {
	Component  string
	InstanceID string
	Container  string
}

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp  string                 `json:"timestamp"`
	Level      LogLevel               `json:"level"`
	Component  string                 `json:"component"`
	InstanceID string                 `json:"instance_id"`
	Container  string                 `json:"container"`
	ScenarioID string                 `json:"scenario_id,omitempty"`
	JobID      string                 `json:"job_id,omitempty"`
	Message    string                 `json:"message"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// New creates a new Logger for the specified component
func New(component string) *Logger {
	// Instance ID is set during deployment
	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = "unknown"
	}

	container, err := os.Hostname()
	if err != nil {
		container = "unknown"
	}

	return &Logger{
		Component:  component,
		InstanceID: instanceID,
		Container:  container,
	}
}

// NewWithInstance creates a Logger with an explicit instance identifier,
// for callers that already resolved their configuration.
func NewWithInstance(component, instanceID string) *Logger {
	l := New(component)
	if instanceID != "" {
		l.InstanceID = instanceID
	}
	return l
}

// Log creates a structured log entry and writes it to stdout
func (l *Logger) Log(level LogLevel, scenarioID, jobID, message string, fields map[string]interface{}) {
	entry := LogEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Level:      level,
		Component:  l.Component,
		InstanceID: l.InstanceID,
		Container:  l.Container,
		ScenarioID: scenarioID,
		JobID:      jobID,
		Message:    message,
		Fields:     fields,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		log.Printf("ERROR: Failed to marshal log entry: %v", err)
		return
	}

	log.Println(string(jsonBytes))
}

// Info logs an informational message
func (l *Logger) Info(scenarioID, jobID, message string, fields map[string]interface{}) {
	l.Log(INFO, scenarioID, jobID, message, fields)
}

// Error logs an error message
func (l *Logger) Error(scenarioID, jobID, message string, fields map[string]interface{}) {
	l.Log(ERROR, scenarioID, jobID, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(scenarioID, jobID, message string, fields map[string]interface{}) {
	l.Log(WARN, scenarioID, jobID, message, fields)
}

// Debug logs a debug message
func (l *Logger) Debug(scenarioID, jobID, message string, fields map[string]interface{}) {
	l.Log(DEBUG, scenarioID, jobID, message, fields)
}

// InfoWithDuration logs an info message with a duration field
func (l *Logger) InfoWithDuration(scenarioID, jobID, message string, durationMS float64, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["duration_ms"] = durationMS
	l.Info(scenarioID, jobID, message, fields)
}

// ErrorWithCode logs an error with status code
func (l *Logger) ErrorWithCode(scenarioID, jobID, message string, statusCode int, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["status_code"] = statusCode
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Error(scenarioID, jobID, message, fields)
}
