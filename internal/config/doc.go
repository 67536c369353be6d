// Package config loads, validates, watches and persists the cuinotify
// configuration file.
//
// The file is JSON (or YAML when the extension says so) and is shared with the
// host application: machineId and interface.notifications follow its schema,
// the remaining sections configure this process. Manager keeps one committed
// snapshot that readers fetch on every use, so edits take effect on the next
// dispatch without a restart.
package config
