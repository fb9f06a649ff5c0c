// Package protocol implements the encoding and decoding of the text protocol
// spoken by beanstalk-style work queue servers.
//
// The protocol aims to be:
//
// - easy to implement
// - human readable
// - strictly request/response: a server answers the commands of one
//   connection in the order it received them
//
// - `Verb`     - A client instruction (e.g. `put`, `reserve`).
// - `Status`   - The first token of every server response.
// - `Entry`    - Per-verb record of the success status, recognised failure
//                statuses and the parser for the success value.
// - `Frame`    - One complete server response.
//
// === General Syntax
//
// - lines are `\r\n` delimited
// - verbs are lower case and may contain hyphens (`peek-ready`)
// - arguments are separated by a single space
// - statuses are upper case (`INSERTED`, `NOT_FOUND`)
//
// === Requests
//
//   ```
//     <verb>[ <arg> ...]\r\n
//   ```
//
// `put` is the only verb with a body. Its last argument is the exact length
// of the body in bytes:
//
//   ```
//     > put <pri> <delay> <ttr> <bytes>\r\n
//     > <data>\r\n
//     < INSERTED <id>\r\n
//   ```
//
// === Responses
//
//   ```
//     <status>[ <field> ...]\r\n
//   ```
//
// `RESERVED`, `FOUND` and `OK` carry a body. The last field is the body
// length and the body follows as its own `\r\n` terminated data line:
//
//   ```
//     > reserve\r\n
//     < RESERVED <id> <bytes>\r\n
//     < <data>\r\n
//   ```
//
// `OK` bodies (stats-*, list-*) are YAML documents.
//
// === Errors
//
// Each verb has a fixed set of failure statuses (`NOT_FOUND`, `TIMED_OUT`,
// `JOB_TOO_BIG`, ...). Dispatch turns these into *CommandError, with two
// exceptions: `DEADLINE_SOON` during a reserve is ErrDeadlineSoon, and
// `NOT_FOUND` for the peek verbs is an Outcome with Found == false. Any
// status the verb does not define is an *UnexpectedResponseError.
//
package protocol
