/*
Package log provides structured logging for fleet using zerolog.

The package holds a single global zerolog.Logger, configured once at process
start through Init, and helpers that derive child loggers carrying the fields
every control-plane log line is filtered by: component, universe, task and
node.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithTaskID(taskID)
	logger.Info().
		Int("group", idx).
		Str("type", string(group.Type)).
		Msg("subtask group completed")

Until Init is called the global logger is the zero zerolog.Logger, which
discards everything. Tests rely on this and never initialize logging.

# Conventions

  - Info for task and group transitions
  - Warn for soft degradation: a partially populated node pool, a user flag
    dropped because it conflicts with a platform-managed value, a subtask
    skipped on retry because its effect is already visible
  - Error for subtask and task failures, always with Err(err)
*/
package log
