package report

import (
	"bytes"
	"html/template"
	"time"
)

const subjectPrefix = "[CyberGuard AI] "

var reportTmpl = template.Must(template.New("scam-report").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #dc3545;">Potential Scam Alert</h2>
  <p><strong>Reported by:</strong> {{if .UserEmail}}{{.UserEmail}}{{else}}Anonymous User{{end}}</p>
  <p><strong>Report Time:</strong> {{.Time}}</p>
  <p><strong>Session:</strong> {{.SessionID}}</p>
  <div style="background-color: #f8f9fa; padding: 15px; border-left: 4px solid #dc3545; margin: 15px 0;">
    <h4>Reported Message:</h4>
    <p>{{.Message}}</p>
  </div>
  <div style="margin-top: 20px; padding: 15px; background-color: #e9ecef; border-radius: 5px;">
    <h4>Analysis Results:</h4>
    {{if .Analysis}}<ul>{{range .Analysis}}<li>{{.}}</li>{{end}}</ul>{{else}}<p>This message has been flagged as a potential scam.</p>{{end}}
    <p><strong>Confidence Level:</strong> {{printf "%.2f" .Confidence}} ({{.ThreatLevel}})</p>
  </div>
  <p style="margin-top: 20px; font-size: 0.9em; color: #6c757d;">
    This is an automated message. Please investigate this report promptly.
  </p>
</div>
`))

type view struct {
	ScamReport
	Time string
}

// Render returns the mail subject and HTML body. All report fields are escaped.
func Render(r ScamReport) (subject, body string, err error) {
	at := r.DetectedAt
	if at.IsZero() {
		at = time.Now()
	}
	var buf bytes.Buffer
	if err := reportTmpl.Execute(&buf, view{ScamReport: r, Time: at.UTC().Format(time.RFC1123)}); err != nil {
		return "", "", err
	}
	return subjectPrefix + "Potential Scam Alert", buf.String(), nil
}

var incidentTmpl = template.Must(template.New("incident-report").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #0d6efd;">{{.Heading}}</h2>
  <h3>{{.Title}}</h3>
  <p><strong>Reported by:</strong> {{if .ReporterEmail}}{{.ReporterEmail}}{{else}}Anonymous User{{end}}</p>
  <p><strong>Report Time:</strong> {{.Time}}</p>
  {{if .ThreatLevel}}<p><strong>Threat Level:</strong> {{.ThreatLevel}}</p>{{end}}
  <div style="background-color: #f8f9fa; padding: 15px; border-left: 4px solid #0d6efd; margin: 15px 0;">
    <p>{{.Description}}</p>
  </div>
  {{if .Details}}<table style="border-collapse: collapse;">{{range $k, $v := .Details}}
    <tr><td style="padding: 4px 8px;"><strong>{{$k}}</strong></td><td style="padding: 4px 8px;">{{$v}}</td></tr>{{end}}
  </table>{{end}}
  {{if .Recommendations}}<div style="margin-top: 20px; padding: 15px; background-color: #e9ecef; border-radius: 5px;">
    <h4>Recommendations:</h4>
    <p style="white-space: pre-wrap;">{{.Recommendations}}</p>
  </div>{{end}}
  <p style="margin-top: 20px; font-size: 0.9em; color: #6c757d;">
    This report was filed through CyberGuard AI.
  </p>
</div>
`))

type incidentView struct {
	IncidentReport
	Heading string
	Time    string
}

// RenderIncident renders a filed report. Generic reports use their title as
// the subject.
func RenderIncident(r IncidentReport) (subject, body string, err error) {
	at := r.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	v := incidentView{IncidentReport: r, Heading: "Security Report", Time: at.UTC().Format(time.RFC1123)}
	subject = subjectPrefix + r.Title
	if r.Kind == KindIncident {
		v.Heading = "Security Incident Report"
		subject = subjectPrefix + "Security Incident: " + r.Title
	}
	var buf bytes.Buffer
	if err := incidentTmpl.Execute(&buf, v); err != nil {
		return "", "", err
	}
	return subject, buf.String(), nil
}
