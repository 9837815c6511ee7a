package report

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Name}} - Match Load Report</title>
    <script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
    <style>
        :root {
            --bg: #f8fafc;
            --card: #ffffff;
            --text: #1e293b;
            --muted: #64748b;
            --border: #e2e8f0;
            --primary: #3b82f6;
            --ok: #22c55e;
            --warn: #f59e0b;
            --err: #ef4444;
        }
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif;
            background: var(--bg);
            color: var(--text);
            line-height: 1.6;
        }
        .container { max-width: 1280px; margin: 0 auto; padding: 2rem; }
        header { display: flex; justify-content: space-between; align-items: flex-start; margin-bottom: 2rem; }
        header .meta { color: var(--muted); font-size: 0.875rem; display: flex; gap: 1.5rem; flex-wrap: wrap; }
        .status { padding: 0.5rem 1.25rem; border-radius: 999px; font-weight: 700; color: #fff; }
        .status.pass { background: var(--ok); }
        .status.fail { background: var(--err); }
        .cards { display: grid; grid-template-columns: repeat(auto-fit, minmax(180px, 1fr)); gap: 1rem; margin-bottom: 2rem; }
        .card, .section { background: var(--card); border: 1px solid var(--border); border-radius: 0.75rem; padding: 1.25rem; }
        .card .label { color: var(--muted); font-size: 0.75rem; text-transform: uppercase; letter-spacing: 0.05em; }
        .card .value { font-size: 1.75rem; font-weight: 700; }
        .card .unit { font-size: 0.875rem; color: var(--muted); margin-left: 0.25rem; }
        .section { margin-bottom: 2rem; }
        .section h2 { font-size: 1.125rem; margin-bottom: 1rem; }
        table { width: 100%; border-collapse: collapse; font-size: 0.875rem; }
        th, td { text-align: left; padding: 0.5rem 0.75rem; border-bottom: 1px solid var(--border); }
        th { color: var(--muted); font-weight: 600; }
        td.num { text-align: right; font-variant-numeric: tabular-nums; }
        .pass { color: var(--ok); }
        .fail { color: var(--err); }
        .warn { color: var(--warn); }
        .charts { display: grid; grid-template-columns: repeat(auto-fit, minmax(480px, 1fr)); gap: 1.5rem; }
        .chart { position: relative; height: 260px; }
        footer { text-align: center; color: var(--muted); font-size: 0.75rem; margin-top: 2rem; }
    </style>
</head>
<body>
<div class="container">
    <header>
        <div>
            <h1>{{.Name}}</h1>
            {{if .Description}}<p>{{.Description}}</p>{{end}}
            <div class="meta">
                <span>Run {{.RunID}}</span>
                <span>{{.StartTime.Format "2006-01-02 15:04:05"}}</span>
                <span>{{formatDuration .Duration}}</span>
                <span>Fixture {{.Fixture.Path}} ({{formatNumber (int64 .Fixture.Rows)}} rows{{if .Fixture.Skipped}}, {{.Fixture.Skipped}} skipped{{end}})</span>
            </div>
        </div>
        <div class="status {{if .Passed}}pass{{else}}fail{{end}}">{{if .Passed}}✓ PASSED{{else}}✗ FAILED{{end}}</div>
    </header>

    {{with .Metrics}}
    <div class="cards">
        <div class="card"><div class="label">Total Requests</div><div class="value">{{formatNumber .TotalRequests}}</div></div>
        <div class="card"><div class="label">Failures</div><div class="value">{{formatNumber .FailedRequests}}</div></div>
        <div class="card"><div class="label">Success Rate</div><div class="value">{{percent (successRate .)}}</div></div>
        <div class="card"><div class="label">Throughput</div><div class="value">{{printf "%.1f" .RPS}}<span class="unit">req/s</span></div></div>
        <div class="card"><div class="label">P95 Latency</div><div class="value">{{formatLatency .Latency.P95}}</div></div>
        <div class="card"><div class="label">Received</div><div class="value">{{formatBytes .TotalBytes}}</div></div>
    </div>

    <section class="section">
        <h2>Latency</h2>
        <table>
            <tr><th>Min</th><th>Avg</th><th>P50</th><th>P90</th><th>P95</th><th>P99</th><th>Max</th><th>Std Dev</th></tr>
            <tr>
                <td>{{formatLatency .Latency.Min}}</td>
                <td>{{formatLatency .Latency.Mean}}</td>
                <td>{{formatLatency .Latency.P50}}</td>
                <td>{{formatLatency .Latency.P90}}</td>
                <td>{{formatLatency .Latency.P95}}</td>
                <td>{{formatLatency .Latency.P99}}</td>
                <td>{{formatLatency .Latency.Max}}</td>
                <td>{{formatLatency .Latency.StdDev}}</td>
            </tr>
        </table>
    </section>
    {{end}}

    {{if .TimeSeries}}
    <section class="section">
        <h2>Time Series</h2>
        <div class="charts">
            <div class="chart"><canvas id="rpsChart"></canvas></div>
            <div class="chart"><canvas id="latencyChart"></canvas></div>
            <div class="chart"><canvas id="vusChart"></canvas></div>
            <div class="chart"><canvas id="errorChart"></canvas></div>
        </div>
    </section>
    {{end}}

    {{if .Scenarios}}
    <section class="section">
        <h2>Scenarios</h2>
        <table>
            <tr><th>Name</th><th>Request</th><th>Host</th><th>Executor</th><th>Pacing</th><th>Duration</th><th>Iterations</th><th>Dropped</th><th>Max VUs</th></tr>
            {{range $name, $s := .Scenarios}}
            <tr>
                <td>{{$name}}</td>
                <td>{{$s.Request}}</td>
                <td>{{$s.Host}}</td>
                <td>{{$s.Executor}}</td>
                <td>{{$s.Pacing}}</td>
                <td>{{formatDuration $s.Duration}}</td>
                <td class="num">{{formatNumber $s.Iterations}}</td>
                <td class="num{{if $s.DroppedIterations}} warn{{end}}">{{formatNumber $s.DroppedIterations}}</td>
                <td class="num">{{$s.MaxVUs}}</td>
            </tr>
            {{if $s.Error}}<tr><td colspan="9" class="fail">Error: {{$s.Error}}</td></tr>{{end}}
            {{end}}
        </table>
    </section>
    {{end}}

    {{if .RequestStats}}
    <section class="section">
        <h2>Requests</h2>
        <table>
            <tr><th>Request</th><th>Count</th><th>Min</th><th>Avg</th><th>P50</th><th>P95</th><th>P99</th><th>Max</th></tr>
            {{range $name, $r := .RequestStats}}
            <tr>
                <td>{{$name}}</td>
                <td class="num">{{formatNumber $r.Count}}</td>
                <td>{{formatLatency $r.Latency.Min}}</td>
                <td>{{formatLatency $r.Latency.Mean}}</td>
                <td>{{formatLatency $r.Latency.P50}}</td>
                <td>{{formatLatency $r.Latency.P95}}</td>
                <td>{{formatLatency $r.Latency.P99}}</td>
                <td>{{formatLatency $r.Latency.Max}}</td>
            </tr>
            {{end}}
        </table>
    </section>
    {{end}}

    {{with .Metrics}}
    {{if .Checks}}
    <section class="section">
        <h2>Checks ({{percent .CheckRate}} passed)</h2>
        <table>
            <tr><th>Check</th><th>Passed</th><th>Failed</th></tr>
            {{range sortedChecks .Checks}}
            <tr>
                <td class="{{if .Failed}}fail{{else}}pass{{end}}">{{if .Failed}}✗{{else}}✓{{end}} {{.Name}}</td>
                <td class="num">{{formatNumber .Passed}}</td>
                <td class="num">{{formatNumber .Failed}}</td>
            </tr>
            {{end}}
        </table>
    </section>
    {{end}}

    {{if .Failures}}
    <section class="section">
        <h2>Failures</h2>
        <table>
            <tr><th>Occurrences</th><th>Request</th><th>Message</th></tr>
            {{range .Failures}}
            <tr>
                <td class="num fail">{{formatNumber .Occurrences}}</td>
                <td>{{.Request}}</td>
                <td><code>{{.Message}}</code></td>
            </tr>
            {{end}}
        </table>
    </section>
    {{end}}
    {{end}}

    {{if .Thresholds}}
    <section class="section">
        <h2>Thresholds</h2>
        <table>
            <tr><th></th><th>Metric</th><th>Expression</th><th>Actual</th><th></th></tr>
            {{range .Thresholds}}
            <tr>
                <td class="{{if .Passed}}pass{{else}}fail{{end}}">{{if .Passed}}✓{{else}}✗{{end}}</td>
                <td>{{.Metric}}</td>
                <td><code>{{.Expression}}</code></td>
                <td>{{.Value}}</td>
                <td class="fail">{{.Message}}</td>
            </tr>
            {{end}}
        </table>
    </section>
    {{end}}

    {{if .Error}}<section class="section fail">Error: {{.Error}}</section>{{end}}

    <footer>Generated by matchload • {{.EndTime.Format "2006-01-02 15:04:05 MST"}}</footer>
</div>

<script>
    const timeSeriesData = {{.TimeSeriesJSON}};

    function lineChart(id, label, datasets, yTitle) {
        const el = document.getElementById(id);
        if (!el || timeSeriesData.length === 0) return;
        new Chart(el, {
            type: 'line',
            data: { labels: timeSeriesData.map(d => d.second + 's'), datasets: datasets },
            options: {
                responsive: true,
                maintainAspectRatio: false,
                interaction: { mode: 'index', intersect: false },
                plugins: { title: { display: true, text: label } },
                scales: { y: { beginAtZero: true, title: { display: true, text: yTitle } } },
                elements: { point: { radius: 0 }, line: { tension: 0.3 } },
            },
        });
    }

    lineChart('rpsChart', 'Throughput', [
        { label: 'req/s', data: timeSeriesData.map(d => d.intervalRPS), borderColor: '#3b82f6' },
    ], 'req/s');
    lineChart('latencyChart', 'Latency', [
        { label: 'P50', data: timeSeriesData.map(d => d.latencyP50Ms), borderColor: '#22c55e' },
        { label: 'P95', data: timeSeriesData.map(d => d.latencyP95Ms), borderColor: '#f59e0b' },
        { label: 'P99', data: timeSeriesData.map(d => d.latencyP99Ms), borderColor: '#ef4444' },
    ], 'ms');
    lineChart('vusChart', 'Active VUs', [
        { label: 'VUs', data: timeSeriesData.map(d => d.activeVUs), borderColor: '#8b5cf6' },
    ], 'VUs');
    lineChart('errorChart', 'Failure Rate', [
        { label: '% failed', data: timeSeriesData.map(d => d.intervalErrorRate * 100), borderColor: '#ef4444' },
    ], '%');
</script>
</body>
</html>
`
