/*
Package upgrade turns "current intent → desired intent" into task plans.

Each maintenance Kind has a PlanBuilder registered in a Registry, which
implements task.Planner. Builders verify parameters before the universe is
locked and build the plan while it is locked.

# Rolling restarts

Nodes are restarted one at a time, masters first and the master leader last
among them. For one node a Context produces:

	[leader blacklist]  (ReconfigureMaster, master nodes)
	set node state
	[write config]      (RunBeforeStopping)
	stop processes
	mutation groups     (instance type, volumes, software)
	[write config]      (!RunBeforeStopping)
	start processes
	wait for server     (node back to Live)
	[sleep]
	[remove blacklist]
	PostAction groups

# Resize

Nodes are split into instance-changing, device-only and unaffected. Instance
changes roll; device-only nodes get their volumes grown in place; any node
not restarted whose effective flags changed is restarted in a trailing flag
pass. Every plan ends with the group persisting the new intents, so a failed
task leaves the stored intent untouched.

Flag differences are computed from the effective flags of each process
before and after applying the desired intents to a copy of the universe.
*/
package upgrade
