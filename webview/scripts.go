package webview

// Page-side halves of the blob recovery exchange. They depend on the globals
// the injector installs and are called with rod's function-argument form.

// startRecoveryJS resolves a blob URL from the capture cache, then the live
// blob map, then a fetch, and writes the outcome to blobDownloadResults[id].
// It returns before the asynchronous part settles.
const startRecoveryJS = `(id, url) => {
	const w = window;
	const results = w.blobDownloadResults = w.blobDownloadResults || {};
	const done = (r) => { results[id] = r; };
	const fail = (err) => done({
		success: false,
		error: String((err && err.message) ? err.message : (err || 'unknown error')),
	});

	const toBase64 = w.__webViewAppToBase64;
	if (typeof toBase64 !== 'function') {
		fail('page injector is not installed');
		return false;
	}

	const cache = w.__webViewAppBlobCache;
	const hit = cache && cache.get(url);
	if (hit && hit.data) {
		done({ success: true, data: hit.data, type: hit.type || '', size: hit.size || 0 });
		return true;
	}

	const encode = (blob) => toBase64(blob).then((data) => {
		done({ success: true, data, type: blob.type || '', size: blob.size });
	});

	const live = w.capturedBlobs && w.capturedBlobs[url];
	const pending = live
		? encode(live)
		: fetch(url).then((r) => {
			if (!r.ok) throw new Error('HTTP ' + r.status);
			return r.blob();
		}).then(encode);
	pending.catch(fail);
	return true;
}`

// checkResultJS returns the slot for id as JSON text, or null while unwritten.
const checkResultJS = `(id) => {
	const results = window.blobDownloadResults;
	if (!results || !Object.prototype.hasOwnProperty.call(results, id)) return null;
	return JSON.stringify(results[id]);
}`

const clearResultJS = `(id) => {
	if (window.blobDownloadResults) delete window.blobDownloadResults[id];
	return true;
}`

// bindingName is the raw binding rod exposes; downloadTriggerJS wraps it so
// pages can call webViewAppDownload(url, filename).
const bindingName = "__webViewAppDownloadBinding"

const downloadTriggerJS = `(() => {
	const w = window;
	if (w.webViewAppDownload) return false;
	w.webViewAppDownload = (url, filename) => {
		const bind = w.__webViewAppDownloadBinding;
		if (typeof bind !== 'function') return Promise.reject(new Error('download bridge unavailable'));
		return bind({ url: String(url || ''), filename: String(filename || '') });
	};
	return true;
})()`

// toastJS renders a notification at the bottom of the page. Info and success
// toasts dismiss after three seconds, errors after six.
const toastJS = `(level, message) => {
	const doc = document;
	if (!doc.body) return false;
	const id = 'webview-app-toast';
	let el = doc.getElementById(id);
	if (!el) {
		el = doc.createElement('div');
		el.id = id;
		el.setAttribute('role', 'status');
		el.style.cssText = [
			'position:fixed', 'left:16px', 'right:16px', 'bottom:24px', 'z-index:2147483647',
			'padding:12px 16px', 'border-radius:8px', 'font:14px/1.4 system-ui,sans-serif',
			'color:#fff', 'box-shadow:0 2px 8px rgba(0,0,0,.3)', 'transition:opacity .2s',
		].join(';');
		doc.body.appendChild(el);
	}
	const colors = { info: '#323232', success: '#2e7d32', error: '#c62828' };
	el.style.background = colors[level] || colors.info;
	el.style.opacity = '1';
	el.textContent = message;
	clearTimeout(el.__hideTimer);
	el.__hideTimer = setTimeout(() => { el.style.opacity = '0'; }, level === 'error' ? 6000 : 3000);
	return true;
}`
