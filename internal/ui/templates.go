package ui

import (
	"fmt"
	"html/template"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// Template functions available in all templates.
var templateFuncs = template.FuncMap{
	"formatTime": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Format("2006-01-02 15:04:05")
	},
	"formatTimePtr": func(t *time.Time) string {
		if t == nil || t.IsZero() {
			return "-"
		}
		return t.Format("2006-01-02 15:04:05")
	},
	"formatDuration": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return time.Since(t).Round(time.Second).String()
	},
	"stateColor": func(state string) string {
		switch strings.ToUpper(state) {
		case "CREATED", "PENDING":
			return "bg-gray-100 text-gray-800"
		case "SCHEDULED":
			return "bg-yellow-100 text-yellow-800"
		case "IN_PROGRESS", "RUNNING":
			return "bg-blue-100 text-blue-800"
		case "COMPLETED", "SUCCESS", "HEALTHY":
			return "bg-green-100 text-green-800"
		case "FAILED", "LOST":
			return "bg-red-100 text-red-800"
		default:
			return "bg-gray-100 text-gray-500"
		}
	},
	"truncate": func(s string, n int) string {
		if len(s) <= n {
			return s
		}
		return s[:n] + "..."
	},
	"dict": func(kv ...any) (map[string]any, error) {
		if len(kv)%2 != 0 {
			return nil, fmt.Errorf("dict: odd number of arguments")
		}
		m := make(map[string]any, len(kv)/2)
		for i := 0; i < len(kv); i += 2 {
			k, ok := kv[i].(string)
			if !ok {
				return nil, fmt.Errorf("dict: key %v is not a string", kv[i])
			}
			m[k] = kv[i+1]
		}
		return m, nil
	},
}

// renderTemplate renders a page template inside the layout.
func renderTemplate(w io.Writer, name string, data map[string]any) error {
	content, ok := templates[name]
	if !ok {
		return fmt.Errorf("template not found: %s", name)
	}

	layout, ok := templates["layout"]
	if !ok {
		return fmt.Errorf("layout template not found")
	}

	tmpl, err := template.New("layout").Funcs(templateFuncs).Parse(layout)
	if err != nil {
		return fmt.Errorf("parse layout: %w", err)
	}

	_, err = tmpl.New("content").Parse(content)
	if err != nil {
		return fmt.Errorf("parse content: %w", err)
	}

	// Add shared components.
	for compName, compContent := range templates {
		if strings.HasPrefix(compName, "components/") {
			_, err = tmpl.New(filepath.Base(compName)).Parse(compContent)
			if err != nil {
				return fmt.Errorf("parse component %s: %w", compName, err)
			}
		}
	}

	return tmpl.Execute(w, data)
}

var templates = map[string]string{
	"layout": `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <script src="https://cdn.tailwindcss.com"></script>
</head>
<body class="bg-gray-50 min-h-screen">
    <nav class="bg-white shadow-sm border-b">
        <div class="max-w-7xl mx-auto px-4 sm:px-6 lg:px-8">
            <div class="flex h-16">
                <a href="{{.Prefix}}/" class="flex items-center px-2 py-2 text-xl font-bold text-indigo-600">clusterq</a>
                <div class="hidden sm:ml-6 sm:flex sm:space-x-8">
                    <a href="{{.Prefix}}/" class="text-gray-500 hover:text-gray-700 inline-flex items-center px-1 pt-1 text-sm font-medium">Dashboard</a>
                    <a href="{{.Prefix}}/hosts" class="text-gray-500 hover:text-gray-700 inline-flex items-center px-1 pt-1 text-sm font-medium">Hosts</a>
                    <a href="{{.Prefix}}/jobs/" class="text-gray-500 hover:text-gray-700 inline-flex items-center px-1 pt-1 text-sm font-medium">Jobs</a>
                </div>
            </div>
        </div>
    </nav>

    <main class="max-w-7xl mx-auto py-6 sm:px-6 lg:px-8">
        {{template "content" .}}
    </main>
</body>
</html>`,

	"components/state_badge": `{{define "state_badge"}}<span class="px-2 inline-flex text-xs leading-5 font-semibold rounded-full {{stateColor .}}">{{.}}</span>{{end}}`,

	"components/job_rows": `{{define "job_rows"}}{{$prefix := .Prefix}}
<table class="min-w-full divide-y divide-gray-200">
    <thead class="bg-gray-50">
        <tr>
            <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">Job</th>
            <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">State</th>
            <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">Created</th>
            <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">Updated</th>
            <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">Reason</th>
        </tr>
    </thead>
    <tbody class="bg-white divide-y divide-gray-200">
        {{range .Jobs}}
        <tr>
            <td class="px-6 py-4 text-sm font-mono"><a class="text-indigo-600 hover:underline" href="{{$prefix}}/jobs/{{.ID}}">{{.ID}}</a></td>
            <td class="px-6 py-4">{{template "state_badge" .State.String}}</td>
            <td class="px-6 py-4 text-sm text-gray-500">{{formatTime .CreatedAt}}</td>
            <td class="px-6 py-4 text-sm text-gray-500">{{formatTime .UpdatedAt}}</td>
            <td class="px-6 py-4 text-sm text-gray-500">{{truncate .Reason 80}}</td>
        </tr>
        {{else}}
        <tr><td colspan="5" class="px-6 py-4 text-sm text-gray-500">No jobs.</td></tr>
        {{end}}
    </tbody>
</table>
{{end}}`,

	"dashboard": `{{define "content"}}
<div class="px-4 sm:px-0">
    <h1 class="text-2xl font-semibold text-gray-900">Dashboard</h1>
    <p class="text-sm text-gray-500">Up {{.Uptime}}</p>

    <div class="mt-6 grid grid-cols-1 gap-5 sm:grid-cols-3">
        <div class="bg-white shadow rounded-lg p-5">
            <dt class="text-sm font-medium text-gray-500">Hosts</dt>
            <dd class="mt-1 text-3xl font-semibold text-gray-900">{{.HostCount}}</dd>
            <dd class="mt-2 text-sm text-gray-500">
                {{range $state, $n := .HostStats}}<span class="mr-2">{{$state}}: {{$n}}</span>{{end}}
            </dd>
        </div>
        <div class="bg-white shadow rounded-lg p-5">
            <dt class="text-sm font-medium text-gray-500">Pending commands</dt>
            <dd class="mt-1 text-3xl font-semibold text-gray-900">{{.Pending}}</dd>
        </div>
        <div class="bg-white shadow rounded-lg p-5">
            <dt class="text-sm font-medium text-gray-500">Jobs</dt>
            <dd class="mt-1 text-3xl font-semibold text-gray-900">{{.JobCount}}</dd>
            <dd class="mt-2 text-sm text-gray-500">
                {{range $state, $n := .JobStats}}<span class="mr-2">{{$state}}: {{$n}}</span>{{end}}
            </dd>
        </div>
    </div>

    <h2 class="mt-8 text-lg font-medium text-gray-900">Recent jobs</h2>
    <div class="mt-2 bg-white shadow rounded-lg overflow-hidden">
        {{template "job_rows" (dict "Prefix" .Prefix "Jobs" .RecentJobs)}}
    </div>
</div>
{{end}}`,

	"hosts": `{{define "content"}}
<div class="px-4 sm:px-0">
    <h1 class="text-2xl font-semibold text-gray-900">Hosts</h1>
    <div class="mt-4 bg-white shadow rounded-lg overflow-hidden">
        <table class="min-w-full divide-y divide-gray-200">
            <thead class="bg-gray-50">
                <tr>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">Name</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">State</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">Address</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">OS</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">Pending</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">Last seen</th>
                </tr>
            </thead>
            <tbody class="bg-white divide-y divide-gray-200">
                {{range .Hosts}}
                <tr>
                    <td class="px-6 py-4 text-sm font-medium text-gray-900">{{.Name}}</td>
                    <td class="px-6 py-4">{{template "state_badge" .State.String}}</td>
                    <td class="px-6 py-4 text-sm text-gray-500">{{.Address}}</td>
                    <td class="px-6 py-4 text-sm text-gray-500">{{.OS}}</td>
                    <td class="px-6 py-4 text-sm text-gray-500">{{.Pending}}</td>
                    <td class="px-6 py-4 text-sm text-gray-500">{{formatDuration .LastSeen}} ago</td>
                </tr>
                {{else}}
                <tr><td colspan="6" class="px-6 py-4 text-sm text-gray-500">No hosts registered.</td></tr>
                {{end}}
            </tbody>
        </table>
    </div>
</div>
{{end}}`,

	"jobs": `{{define "content"}}
<div class="px-4 sm:px-0">
    <h1 class="text-2xl font-semibold text-gray-900">Jobs</h1>
    <div class="mt-2 text-sm">
        <a class="mr-3 {{if not .StateFilter}}font-bold{{end}}" href="{{.Prefix}}/jobs/">All</a>
        {{$filter := .StateFilter}}{{$prefix := .Prefix}}
        {{range .States}}<a class="mr-3 {{if eq .String $filter}}font-bold{{end}}" href="{{$prefix}}/jobs/?state={{.}}">{{.}}</a>{{end}}
    </div>
    <div class="mt-4 bg-white shadow rounded-lg overflow-hidden">
        {{template "job_rows" (dict "Prefix" .Prefix "Jobs" .Jobs)}}
    </div>
    {{with .Pagination}}
    <div class="mt-4 flex justify-between text-sm text-gray-500">
        <span>{{.Total}} jobs</span>
        <span>
            {{if .HasPrev}}<a class="text-indigo-600 mr-3" href="?state={{$filter}}&offset={{.PrevOffset}}&limit={{.Limit}}">Previous</a>{{end}}
            {{if .HasMore}}<a class="text-indigo-600" href="?state={{$filter}}&offset={{.NextOffset}}&limit={{.Limit}}">Next</a>{{end}}
        </span>
    </div>
    {{end}}
</div>
{{end}}`,

	"job": `{{define "content"}}
<div class="px-4 sm:px-0">
    <h1 class="text-2xl font-semibold text-gray-900 font-mono">{{.Job.ID}}</h1>
    <div class="mt-2">{{template "state_badge" .Job.State.String}}</div>
    <dl class="mt-4 grid grid-cols-2 gap-4 text-sm">
        <div><dt class="text-gray-500">Created</dt><dd>{{formatTime .Job.CreatedAt}}</dd></div>
        <div><dt class="text-gray-500">Updated</dt><dd>{{formatTime .Job.UpdatedAt}}</dd></div>
        <div><dt class="text-gray-500">Completed</dt><dd>{{formatTimePtr .Job.CompletionTime}}</dd></div>
        <div><dt class="text-gray-500">Reason</dt><dd>{{.Job.Reason}}</dd></div>
    </dl>

    <h2 class="mt-8 text-lg font-medium text-gray-900">Commands</h2>
    <div class="mt-2 bg-white shadow rounded-lg overflow-hidden">
        <table class="min-w-full divide-y divide-gray-200">
            <thead class="bg-gray-50">
                <tr>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">Host</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">Kind</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">Target</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">Status</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">Exit</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">Output</th>
                </tr>
            </thead>
            <tbody class="bg-white divide-y divide-gray-200">
                {{range .Commands}}
                <tr>
                    <td class="px-6 py-4 text-sm text-gray-900">{{.Host}}</td>
                    <td class="px-6 py-4 text-sm text-gray-500">{{.Kind}}</td>
                    <td class="px-6 py-4 text-sm text-gray-500">{{.Target}}</td>
                    <td class="px-6 py-4">{{template "state_badge" (printf "%s" .Status)}}</td>
                    <td class="px-6 py-4 text-sm text-gray-500">{{.ExitCode}}</td>
                    <td class="px-6 py-4 text-xs font-mono text-gray-500"><pre>{{truncate .Stdout 400}}{{truncate .Stderr 400}}</pre></td>
                </tr>
                {{end}}
            </tbody>
        </table>
    </div>

    <h2 class="mt-8 text-lg font-medium text-gray-900">Events</h2>
    <ol class="mt-2 bg-white shadow rounded-lg divide-y divide-gray-200">
        {{range .Events}}
        <li class="px-6 py-3 text-sm">
            <span class="text-gray-400 mr-3">#{{.Seq}}</span>
            <span class="text-gray-500 mr-3">{{formatTime .RecordedAt}}</span>
            {{template "state_badge" .Event.Type.String}}
            {{with .Event.Reason}}<span class="ml-3 text-gray-600">{{.}}</span>{{end}}
        </li>
        {{end}}
    </ol>
</div>
{{end}}`,

	"error": `{{define "content"}}
<div class="px-4 sm:px-0">
    <h1 class="text-2xl font-semibold text-gray-900">{{.Message}}</h1>
    <a class="mt-4 inline-block text-indigo-600" href="{{.Prefix}}/">Back to dashboard</a>
</div>
{{end}}`,
}
