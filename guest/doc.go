// Package guest implements the in-sandbox half of the reducer protocol: the
// shim behind the start/resume exports, and the Tx handle reducer logic uses
// to issue queries that look synchronous.
//
// The sandbox cannot pause an arbitrary call stack, so suspension is
// deterministic replay. The shim keeps a journal of the responses received so
// far and re-invokes the reducer from the top on every entry; Tx.Query
// consumes journal entries in order, and the first query without an answer
// records its request and unwinds back to the shim, which reports Awaiting to
// the host. Because the reducer only returns its mutation statements and
// never applies anything itself, re-entry is always safe: no side effect
// happens before Finished.
//
// Reducer logic must therefore be deterministic given its arguments and the
// query results. No clocks, no randomness, no ambient state: replay would
// diverge between entries.
//
// A reducer module registers its logic once, from an init function (a
// c-shared reactor never calls main), and lets the exports do the rest:
//
//	func init() {
//		guest.Register(func(tx *guest.Tx) (*protocol.Effects, error) {
//			res, err := tx.Query("SELECT balance FROM accounts WHERE id = ?", protocol.Integer(1))
//			if err != nil {
//				return nil, err
//			}
//			_ = res
//			return &protocol.Effects{Statements: []protocol.Statement{
//				{SQL: "UPDATE accounts SET balance = balance - 10 WHERE id = ?",
//					Params: []protocol.Value{protocol.Integer(1)}},
//			}}, nil
//		})
//	}
//
//	func main() {}
package guest
