package auditlog

// LogPolicyDecision records the outcome of a policy lookup for a
// candidate command, before any authentication challenge.
func (l *Logger) LogPolicyDecision(correlationID, user, tty, host, targetUser, command, source, decision, reason string) {
	l.Log(&AuditEvent{
		EventType:    "policy_decision",
		CorrelationID: correlationID,
		User:         user,
		TTY:          tty,
		Host:         host,
		TargetUser:   targetUser,
		Command:      command,
		PolicySource: source,
		Decision:     decision,
		Reason:       reason,
	})
}

// LogAuthResult records the outcome of an authentication challenge.
func (l *Logger) LogAuthResult(correlationID, user, tty, host string, success bool) {
	decision := DecisionDenied
	reason := ""
	if success {
		decision = DecisionAuthorized
	} else {
		reason = "authentication failed"
	}
	l.Log(&AuditEvent{
		EventType:     "auth_result",
		CorrelationID: correlationID,
		User:          user,
		TTY:           tty,
		Host:          host,
		Decision:      decision,
		Reason:        reason,
	})
}

// LogPreExec records a command immediately before it is executed,
// establishing the correlation id later matched by LogExitStatus.
func (l *Logger) LogPreExec(correlationID, user, tty, host, targetUser, command string, testMode, automationSuspected bool) {
	l.Log(&AuditEvent{
		EventType:           "pre_exec",
		CorrelationID:       correlationID,
		User:                user,
		TTY:                 tty,
		Host:                host,
		TargetUser:          targetUser,
		Command:             command,
		Decision:            DecisionExecuted,
		TestMode:            boolPtr(testMode),
		AutomationSuspected: boolPtr(automationSuspected),
	})
}

// LogExitStatus records the termination of a command started by a
// prior LogPreExec call sharing the same correlationID.
func (l *Logger) LogExitStatus(correlationID, user, tty, host, targetUser, command string, exitCode int) {
	l.Log(&AuditEvent{
		EventType:     "exit_status",
		CorrelationID: correlationID,
		User:          user,
		TTY:           tty,
		Host:          host,
		TargetUser:    targetUser,
		Command:       command,
		Decision:      DecisionExecuted,
		ExitCode:      intPtr(exitCode),
	})
}

// LogValidationFailure records a command rejected by cmdparse or
// validator before it ever reaches the policy or execution stage.
func (l *Logger) LogValidationFailure(correlationID, user, tty, host, command, reason string) {
	l.Log(&AuditEvent{
		EventType:     "validation_failure",
		CorrelationID: correlationID,
		User:          user,
		TTY:           tty,
		Host:          host,
		Command:       command,
		Decision:      DecisionBlocked,
		Reason:        reason,
	})
}
