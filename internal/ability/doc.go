// Package ability turns a compiled ability declaration into a running
// ability on an agent.
//
// Building an ability registers its predicates, facts and rules with the
// logic engine under a fact context named after the ability, creates its
// variables, and builds one recipe.Task per declared task. Tasks that
// declare the predicate they achieve are registered as achievers, so
// remote make and ensure requests on that predicate run them.
//
// Expressions read the current value of a variable through the symbol
// <variable>::value. The ability substitutes those symbols before handing
// an expression to the logic engine, so the fact store itself never
// changes when a variable does.
package ability
