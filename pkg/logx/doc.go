// Package logx is the structured logger of schedd, a thin layer over
// zerolog.
//
// A Service owns the outputs (console, an append-only JSON file that can be
// reopened after rotation, and a rate limited stderr mirror for warnings).
// Loggers derived from it follow every Apply, so components keep the logger
// they were built with across config reloads.
package logx
