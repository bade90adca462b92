// Package logx configures relaybot's structured logging.
//
// Logger is a small value type on top of zerolog:
//   - Console output stays readable (short timestamp + file:line caller)
//   - File output is JSON, one event per line
//   - An optional Telegram sink mirrors WARN+ events to a log chat,
//     rate limited so a failing broadcast cannot flood the operators
package logx
