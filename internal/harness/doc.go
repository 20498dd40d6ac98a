// Package harness runs scenario tests against live abilities.
//
// A scenario compiles a set of CUE abilities, starts one agent per
// ability on an in-memory network, drives them through a flow of steps
// and checks the journaled trace and the final state.
//
// # Scenario Format
//
//	name: fetch_cup
//	description: "planner makes the arm hold the cup"
//	specs:
//	  - ../abilities/robot.cue
//	setup:
//	  - agent: arm
//	    fact: at(cup, table)
//	  - agent: arm
//	    set: gripper
//	    value: open
//	flow:
//	  - agent: arm
//	    infer: reachable(cup)
//	    expect: { truth: "true" }
//	  - agent: arm
//	    query: at(X, Y)
//	    expect: { bindings: ["X=cup, Y=table"] }
//	  - agent: planner
//	    execute: fetch
//	    expect: { result: done }
//	  - agent: planner
//	    read: gripper
//	    peer: arm
//	    expect: { value: closed }
//	assertions:
//	  - type: trace_contains
//	    agent: planner
//	    kind: request_constraint
//	    target: arm
//	  - type: final_value
//	    agent: arm
//	    variable: gripper
//	    expect: closed
//
// A failed execute or read step produces "error: CODE" with the runtime
// error code, for example "error: FAILURE"; expect it with `error: FAILURE`.
//
// # Assertion Types
//
//   - trace_contains: a message of the kind was sent (by agent, to target)
//   - trace_order: kinds appear in order among the messages an agent sent
//   - trace_count: exactly count messages of the kind were sent
//   - final_value: a variable holds the expected value after the flow
//   - final_truth: a goal decides to true, false or unknown after the flow
//   - run_status: the last run of a recipe ended with the expected status
//
// # Deterministic Testing
//
// Agents run with liveness pings off, per-agent request counters and
// sequence-based run tokens and incarnations. The trace lists only sent
// messages, grouped by agent, so it is stable across runs and can be
// compared against golden files with RunWithGolden.
package harness
