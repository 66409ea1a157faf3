// internal/realm/pollscript.go
package realm

// pollLoopSource is the poll loop shipped to the realm once per run. It keeps
// re-evaluating the predicate without host round-trips until the predicate is
// truthy or the remote copy of the deadline fires. On the remote deadline it
// resolves with undefined (the empty sentinel) rather than rejecting, so the
// host can tell "predicate never became true" apart from a real error. The
// host-side timer remains the authoritative backstop either way.
const pollLoopSource = `function (predicateBody, polling, intervalMs, timeoutMs, ...args) {
    const predicate = new Function('...args', predicateBody);
    let timedOut = false;
    if (timeoutMs) {
        setTimeout(() => (timedOut = true), timeoutMs);
    }
    switch (polling) {
        case 'raf':
            return pollRaf();
        case 'mutation':
            return pollMutation();
        default:
            return pollInterval(intervalMs);
    }

    function pollMutation() {
        const success = predicate(...args);
        if (success) {
            return Promise.resolve(success);
        }
        let fulfill;
        const result = new Promise((x) => (fulfill = x));
        const observer = new MutationObserver(() => {
            if (timedOut) {
                observer.disconnect();
                fulfill();
                return;
            }
            const success = predicate(...args);
            if (success) {
                observer.disconnect();
                fulfill(success);
            }
        });
        observer.observe(document, {
            childList: true,
            subtree: true,
            attributes: true,
        });
        return result;
    }

    function pollRaf() {
        let fulfill;
        const result = new Promise((x) => (fulfill = x));
        onRaf();
        return result;

        function onRaf() {
            if (timedOut) {
                fulfill();
                return;
            }
            const success = predicate(...args);
            if (success) {
                fulfill(success);
            } else {
                requestAnimationFrame(onRaf);
            }
        }
    }

    function pollInterval(pollIntervalMs) {
        let fulfill;
        const result = new Promise((x) => (fulfill = x));
        onTimeout();
        return result;

        function onTimeout() {
            if (timedOut) {
                fulfill();
                return;
            }
            const success = predicate(...args);
            if (success) {
                fulfill(success);
            } else {
                setTimeout(onTimeout, pollIntervalMs);
            }
        }
    }
}`
