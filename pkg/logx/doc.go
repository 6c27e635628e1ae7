// Package logx is reposter's structured logging layer on top of zerolog.
//
// Console output is human readable, the optional file sink is JSON, and an
// optional Telegram sink forwards warnings and errors to the administrator.
package logx
