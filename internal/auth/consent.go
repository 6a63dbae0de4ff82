package auth

import "html/template"

// consentTemplate renders the authorization consent form. It carries the
// full authorization request as hidden fields plus the single-use consent
// nonce; POST /authorize re-validates all of it from scratch. No external
// resources or scripts, inline styles only, matching the CSP.
const consentTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Authorize {{if .ClientName}}{{.ClientName}}{{else}}application{{end}}</title>
<style>
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif;
         background: #f5f5f7; margin: 0; display: flex; justify-content: center;
         align-items: center; min-height: 100vh; }
  .card { background: #fff; border-radius: 12px; padding: 2rem 2.5rem;
          box-shadow: 0 4px 24px rgba(0,0,0,0.08); max-width: 26rem; }
  h1 { font-size: 1.25rem; margin: 0 0 0.5rem; }
  p { color: #555; line-height: 1.5; }
  .client { font-weight: 600; color: #111; }
  .scope { background: #f0f0f2; border-radius: 6px; padding: 0.4rem 0.7rem;
           display: inline-block; font-family: monospace; font-size: 0.9rem; }
  .actions { display: flex; gap: 0.75rem; margin-top: 1.5rem; }
  button { flex: 1; padding: 0.6rem 1rem; border-radius: 8px; border: none;
           font-size: 1rem; cursor: pointer; }
  .approve { background: #fc4c02; color: #fff; }
  .deny { background: #e5e5ea; color: #111; }
</style>
</head>
<body>
<div class="card">
  <h1>Authorization request</h1>
  <p><span class="client">{{if .ClientName}}{{.ClientName}}{{else}}An application{{end}}</span>
     wants to connect to your Strava MCP gateway.</p>
  {{if .Scope}}<p>Requested scope: <span class="scope">{{.Scope}}</span></p>{{end}}
  <form method="POST" action="{{.Action}}">
    <input type="hidden" name="response_type" value="{{.ResponseType}}">
    <input type="hidden" name="client_id" value="{{.ClientID}}">
    <input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
    <input type="hidden" name="scope" value="{{.Scope}}">
    <input type="hidden" name="state" value="{{.State}}">
    <input type="hidden" name="code_challenge" value="{{.CodeChallenge}}">
    <input type="hidden" name="code_challenge_method" value="{{.CodeChallengeMethod}}">
    <input type="hidden" name="consent_nonce" value="{{.ConsentNonce}}">
    <div class="actions">
      <button class="deny" type="submit" name="decision" value="deny">Deny</button>
      <button class="approve" type="submit" name="decision" value="approve">Approve</button>
    </div>
  </form>
</div>
</body>
</html>`

var consentTmpl = template.Must(template.New("consent").Parse(consentTemplate))

// consentData is the template data for the consent form.
type consentData struct {
	Action              string
	ClientName          string
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	ConsentNonce        string
}

// errorPageTemplate renders errors that must not be delivered on the
// redirect URI (unknown client, invalid redirect).
const errorPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Authorization error</title>
<style>
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif;
         background: #f5f5f7; margin: 0; display: flex; justify-content: center;
         align-items: center; min-height: 100vh; }
  .card { background: #fff; border-radius: 12px; padding: 2rem 2.5rem;
          box-shadow: 0 4px 24px rgba(0,0,0,0.08); max-width: 26rem; }
  h1 { font-size: 1.25rem; margin: 0 0 0.5rem; color: #c0392b; }
  p { color: #555; line-height: 1.5; }
  code { background: #f0f0f2; border-radius: 4px; padding: 0.1rem 0.35rem; }
</style>
</head>
<body>
<div class="card">
  <h1>Authorization error</h1>
  <p><code>{{.Code}}</code></p>
  <p>{{.Description}}</p>
</div>
</body>
</html>`

var errorPageTmpl = template.Must(template.New("error").Parse(errorPageTemplate))
