// Copyright 2026 Fieldrover Project
// SPDX-License-Identifier: Apache-2.0

// Package auth carries the identity of the signed-in enumerator through a
// context so the store can stamp it onto new form submissions.
package auth

import (
	"context"
)

type contextKey string

const (
	userIDKey    contextKey = "user_id"
	submitterKey contextKey = "submitter"
	deviceIDKey  contextKey = "device_id"
)

// SetUserID sets the user ID in the context
func SetUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID retrieves the user ID from the context
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok
}

// SetSubmitter sets the submitter display name in the context
func SetSubmitter(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, submitterKey, name)
}

// GetSubmitter retrieves the submitter display name from the context
func GetSubmitter(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(submitterKey).(string)
	return name, ok
}

// SetDeviceID sets the device ID in the context
func SetDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceIDKey, deviceID)
}

// GetDeviceID retrieves the device ID from the context
func GetDeviceID(ctx context.Context) (string, bool) {
	deviceID, ok := ctx.Value(deviceIDKey).(string)
	return deviceID, ok
}

// SetIdentity sets user, submitter and device identity in one call
func SetIdentity(ctx context.Context, userID, submitter, deviceID string) context.Context {
	ctx = SetUserID(ctx, userID)
	ctx = SetSubmitter(ctx, submitter)
	ctx = SetDeviceID(ctx, deviceID)
	return ctx
}
