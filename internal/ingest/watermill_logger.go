// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

package ingest

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/shopsight/shopsight/internal/logging"
)

// zerologAdapter routes Watermill's internal logging through the process
// logger so pipeline noise shares the application's level and format.
type zerologAdapter struct {
	fields watermill.LogFields
}

// NewWatermillLogger returns a watermill.LoggerAdapter backed by zerolog.
func NewWatermillLogger() watermill.LoggerAdapter {
	return &zerologAdapter{}
}

func (a *zerologAdapter) apply(ev *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range a.fields {
		ev = ev.Interface(k, v)
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	return ev
}

func (a *zerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.apply(logging.Error().Err(err), fields).Msg(msg)
}

func (a *zerologAdapter) Info(msg string, fields watermill.LogFields) {
	a.apply(logging.Debug(), fields).Msg(msg) // watermill "info" is chatty
}

func (a *zerologAdapter) Debug(msg string, fields watermill.LogFields) {
	a.apply(logging.Debug(), fields).Msg(msg)
}

func (a *zerologAdapter) Trace(msg string, fields watermill.LogFields) {
	a.apply(logging.Debug(), fields).Msg(msg)
}

func (a *zerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := make(watermill.LogFields, len(a.fields)+len(fields))
	for k, v := range a.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &zerologAdapter{fields: merged}
}
