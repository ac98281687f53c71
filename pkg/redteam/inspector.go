package redteam

import (
	"context"
	"regexp"
	"time"
)

// pattern is a single named regex rule within an inspector's catalog.
type pattern struct {
	name        string
	re          *regexp.Regexp
	severity    Severity
	description string
	advice      string
}

// inspector applies a fixed catalog of patterns to a piece of content,
// matching the teacher's named-pattern-catalog shape (compile once,
// apply many times, track which pattern contributed which hit).
type inspector struct {
	name     string
	patterns []pattern
}

func (i *inspector) Name() string {
	return i.name
}

// Inspect runs every pattern in the catalog against content. A finding
// is emitted per distinct pattern that matches; the inspector's own
// threat level is the worst finding's severity.
func (i *inspector) Inspect(_ context.Context, content string) InspectorResult {
	start := time.Now()

	var findings []Finding
	recSeen := make(map[string]bool)
	var recommendations []string
	worst := SeverityLow
	any := false

	for _, p := range i.patterns {
		if !p.re.MatchString(content) {
			continue
		}
		any = true
		findings = append(findings, Finding{
			Type:        i.name,
			Severity:    p.severity,
			Description: p.description,
		})
		if p.severity > worst {
			worst = p.severity
		}
		if p.advice != "" && !recSeen[p.advice] {
			recSeen[p.advice] = true
			recommendations = append(recommendations, p.advice)
		}
	}

	confidence := 0.6
	if any {
		confidence = 0.6 + 0.1*float64(len(findings))
		if confidence > 0.95 {
			confidence = 0.95
		}
	}

	return InspectorResult{
		Inspector:       i.name,
		ThreatLevel:     worst,
		Confidence:      confidence,
		Findings:        findings,
		Recommendations: recommendations,
		ExecutionTime:   time.Since(start),
	}
}

// Inspector is the public contract every red-team analysis unit
// satisfies, so the synthesis stage can treat the five built-ins and
// any future addition identically.
type Inspector interface {
	Name() string
	Inspect(ctx context.Context, content string) InspectorResult
}

func mustPattern(name, expr string, sev Severity, description, advice string) pattern {
	return pattern{
		name:        name,
		re:          regexp.MustCompile(expr),
		severity:    sev,
		description: description,
		advice:      advice,
	}
}

// NewPromptInjectionInspector detects instruction-override, memory
// manipulation, role hijacking, system override, and security-bypass
// attempts. Role hijack, system override, and security bypass are
// treated as critical per spec.md §4.6; the other two families are
// high, since they are common in benign "ignore the previous draft"
// phrasing and warrant scrutiny rather than an automatic block.
func NewPromptInjectionInspector() Inspector {
	return &inspector{
		name: "prompt-injection",
		patterns: []pattern{
			mustPattern("instruction-override",
				`(?i)ignore\s+(all\s+|any\s+)?(previous|prior|above|earlier)\s+instructions`,
				SeverityHigh, "instruction-override phrasing detected",
				"treat instruction-override phrasing as untrusted content, not a directive"),
			mustPattern("memory-manipulation",
				`(?i)forget\s+(everything|what\s+i\s+said|your\s+instructions|your\s+training)`,
				SeverityHigh, "memory-manipulation phrasing detected",
				"do not allow user content to clear or rewrite prior context"),
			mustPattern("role-hijacking",
				`(?i)(you\s+are\s+now|act\s+as\s+if\s+you\s+(are|were)|pretend\s+(you\s+are|to\s+be)|DAN\s+mode)`,
				SeverityCritical, "role-hijacking attempt detected",
				"refuse role-reassignment requests embedded in content"),
			mustPattern("system-override",
				`(?i)(reveal|show|print)\s+(your\s+)?(system\s+prompt|instructions)|override\s+your\s+(programming|instructions)`,
				SeverityCritical, "system-prompt override attempt detected",
				"never disclose system-level instructions on request"),
			mustPattern("security-bypass",
				`(?i)(bypass|disable|circumvent)\s+(safety|security|the\s+filter|content\s+filter)|jailbreak`,
				SeverityCritical, "security-bypass attempt detected",
				"treat explicit bypass requests as a block signal"),
		},
	}
}

// NewCodeSecurityInspector flags dynamic evaluation, shell execution,
// and destructive filesystem operations embedded in content.
func NewCodeSecurityInspector() Inspector {
	return &inspector{
		name: "code-security",
		patterns: []pattern{
			mustPattern("dynamic-eval", `(?i)\b(eval|exec)\s*\(`, SeverityHigh,
				"dynamic code evaluation call", "sandbox or reject dynamic eval/exec calls"),
			mustPattern("shell-exec", `(?i)\b(os\.system|subprocess\.\w+|child_process|` + "`" + `[^` + "`" + `]*` + "`" + `)\b`, SeverityHigh,
				"shell execution call", "review shell-exec calls before running untrusted content"),
			mustPattern("shell-substitution", `\$\([^)]+\)|\$\{[^}]+\}`, SeverityMedium,
				"command or template substitution", "inspect substitutions for injected commands"),
			mustPattern("destructive-fs", `(?i)\brm\s+-rf\b|os\.remove\(|shutil\.rmtree\(`, SeverityCritical,
				"destructive filesystem call", "never execute destructive filesystem calls from generated content"),
		},
	}
}

// NewSecretsInspector is zero-tolerance: any recognized secret shape is
// critical, per spec.md §4.6.
func NewSecretsInspector() Inspector {
	return &inspector{
		name: "secrets",
		patterns: []pattern{
			mustPattern("api-key", `\bsk-[A-Za-z0-9]{20,}\b`, SeverityCritical,
				"API key shape detected", "redact and rotate any exposed API key"),
			mustPattern("aws-access-key", `\bAKIA[0-9A-Z]{16}\b`, SeverityCritical,
				"AWS access key shape detected", "redact and rotate any exposed AWS credential"),
			mustPattern("private-key", `-----BEGIN[ A-Z]*PRIVATE KEY-----`, SeverityCritical,
				"private key block detected", "never echo private key material"),
			mustPattern("db-url", `(?i)\b(postgres|postgresql|mysql|mongodb)://[^\s:]+:[^\s@]+@`, SeverityCritical,
				"credentialed database URL detected", "redact embedded database credentials"),
			mustPattern("generic-token", `(?i)\b(api[_-]?key|secret|token|password)\s*[:=]\s*['"][^'"]{8,}['"]`, SeverityCritical,
				"generic credential assignment detected", "redact inline credential assignments"),
		},
	}
}

// NewPrivilegeEscalationInspector flags commands that elevate or widen
// process and filesystem privileges.
func NewPrivilegeEscalationInspector() Inspector {
	return &inspector{
		name: "privilege-escalation",
		patterns: []pattern{
			mustPattern("sudo", `(?i)\bsudo\b`, SeverityHigh,
				"sudo invocation detected", "reject privilege-elevation commands"),
			mustPattern("su-root", `(?i)\bsu\s+(-|root)\b`, SeverityHigh,
				"su to root detected", "reject user-switching commands"),
			mustPattern("permissive-chmod", `\bchmod\s+(-R\s+)?[0-7]*777\b`, SeverityHigh,
				"world-writable chmod detected", "reject permissive chmod commands"),
			mustPattern("root-chown", `(?i)\bchown\s+(-R\s+)?root\b`, SeverityHigh,
				"chown to root detected", "reject ownership changes to root"),
			mustPattern("suid-sgid", `(?i)\bchmod\s+[ug]\+s\b|\b[ug]\+s\b`, SeverityHigh,
				"suid/sgid bit set detected", "reject setuid/setgid bit assignment"),
		},
	}
}

// NewDataExfiltrationInspector flags common patterns for moving data
// or shells to a remote host.
func NewDataExfiltrationInspector() Inspector {
	return &inspector{
		name: "data-exfiltration",
		patterns: []pattern{
			mustPattern("curl-pipe-shell", `(?i)curl\s+[^\n|]*\|\s*(sh|bash)\b`, SeverityHigh,
				"curl piped into a shell detected", "reject pipe-to-shell download patterns"),
			mustPattern("netcat-shell", `(?i)\bnc\s+-e\b`, SeverityHigh,
				"netcat reverse shell detected", "reject netcat exec-shell invocations"),
			mustPattern("dev-tcp", `/dev/tcp/[^\s]+`, SeverityHigh,
				"bash /dev/tcp redirection detected", "reject /dev/tcp network redirection"),
			mustPattern("remote-transfer", `(?i)\b(scp|rsync|ftp)\s+[^\n]*@[^\s]+:`, SeverityHigh,
				"remote file transfer command detected", "review remote transfer commands for exfiltration"),
		},
	}
}

// StandardInspectors returns the five inspectors named in spec.md §4.6,
// in the fixed order synthesis reports them.
func StandardInspectors() []Inspector {
	return []Inspector{
		NewPromptInjectionInspector(),
		NewCodeSecurityInspector(),
		NewSecretsInspector(),
		NewPrivilegeEscalationInspector(),
		NewDataExfiltrationInspector(),
	}
}
