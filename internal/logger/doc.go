// Package logger provides the logging stack for provisioning sessions:
//   - a global zap sugared logger with a console encoder,
//   - context helpers (ToContext/FromContext/WithName),
//   - level configuration and parsing utilities,
//   - a Session sink that mirrors every provisioning record to the console
//     and appends it to a plain-text install log file in call order.
//
// Components accept a context plus a *Session and write all user-visible
// provisioning output through the Session, so a failed unattended run can be
// diagnosed from the log file alone.
package logger
