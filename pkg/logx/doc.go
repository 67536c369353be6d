// Package logx is cuinotify's logging layer, a thin wrapper over zerolog.
//
// Components take a Logger by value and tag it with With(String("comp", ...)).
// The Service behind it writes to the console, a log file, or both, and can be
// reconfigured while the process runs.
package logx
