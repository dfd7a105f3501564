// Package logx is msghook's logging layer over zerolog.
//
// Components hold a Logger value and add fixed fields with With. Loggers
// obtained from a Service pick up level and output changes made by
// Service.Apply without being rebuilt. Console output is human readable,
// the optional file is JSON lines, and an optional Telegram sink posts
// warnings to an ops chat.
package logx
