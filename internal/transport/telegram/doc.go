// Package telegram is the operator console: a telebot bot that reads the
// scheduler view, submits commands on behalf of owner accounts and mirrors
// lifecycle events and warning logs to a chat.
package telegram
