// Package ir provides the shared representation for abilities: the logical
// expression AST, its text parser and printer, canonical serialization, and
// the compiled ability declarations.
//
// This package contains no runtime behavior. All other internal packages
// import ir; ir imports nothing internal. This keeps IR the foundational
// layer with no circular dependencies.
//
// Key design constraints:
//   - Expr is a closed sum type (Int, Double, Str, Var, *Call); consumers
//     switch over it exhaustively
//   - Call arguments are copied at construction and never mutated afterwards
//   - Equality and printing are purely structural
//   - All JSON tags use snake_case
package ir
