package queue

import "github.com/redis/go-redis/v9"

// luaHelpers is prepended to scripts that finish or release a job.
const luaHelpers = `
local function release(jobKey, id, groupsKey)
  local group = redis.call('HGET', jobKey, 'group_key')
  if group and group ~= '' and redis.call('HGET', groupsKey, group) == id then
    redis.call('HDEL', groupsKey, group)
  end
  redis.call('HDEL', jobKey, 'lease_owner', 'lease_token', 'lease_expires_at')
end

local function prune(setKey, keep, prefix)
  local size = redis.call('ZCARD', setKey)
  if keep <= 0 or size <= keep then
    return
  end
  local stale = redis.call('ZRANGE', setKey, 0, size - keep - 1)
  for _, staleID in ipairs(stale) do
    redis.call('DEL', prefix .. 'job:' .. staleID)
  end
  redis.call('ZREMRANGEBYRANK', setKey, 0, size - keep - 1)
end
`

// KEYS: waiting, ready, leased, groups
// ARGV: now, expiresAt, owner, token, prefix
var leaseScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', now, 'LIMIT', 0, 100)
for _, id in ipairs(due) do
  local jobKey = ARGV[5] .. 'job:' .. id
  redis.call('ZREM', KEYS[1], id)
  if redis.call('EXISTS', jobKey) == 1 then
    local priority = tonumber(redis.call('HGET', jobKey, 'priority') or '50')
    local runAt = tonumber(redis.call('HGET', jobKey, 'run_at') or ARGV[1])
    redis.call('ZADD', KEYS[2], string.format('%.0f', priority * 10000000000000 + runAt), id)
  end
end
local candidates = redis.call('ZRANGE', KEYS[2], 0, 199)
for _, id in ipairs(candidates) do
  local jobKey = ARGV[5] .. 'job:' .. id
  if redis.call('EXISTS', jobKey) == 0 then
    redis.call('ZREM', KEYS[2], id)
  else
    local group = redis.call('HGET', jobKey, 'group_key')
    if (not group) or group == '' or redis.call('HEXISTS', KEYS[4], group) == 0 then
      redis.call('ZREM', KEYS[2], id)
      redis.call('HINCRBY', jobKey, 'attempts_made', 1)
      redis.call('HSET', jobKey, 'status', 'active', 'lease_owner', ARGV[3], 'lease_token', ARGV[4],
        'lease_expires_at', ARGV[2], 'updated_at', ARGV[1])
      redis.call('ZADD', KEYS[3], ARGV[2], id)
      if group and group ~= '' then
        redis.call('HSET', KEYS[4], group, id)
      end
      return id
    end
  end
end
return false
`)

// KEYS: job, leased
// ARGV: token, expiresAt, now, id
var extendScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'active' or redis.call('HGET', KEYS[1], 'lease_token') ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'lease_expires_at', ARGV[2], 'updated_at', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[4])
return 1
`)

// KEYS: job, leased, groups, completed
// ARGV: token, now, id, keep, prefix
var completeScript = redis.NewScript(luaHelpers + `
if redis.call('HGET', KEYS[1], 'status') ~= 'active' or redis.call('HGET', KEYS[1], 'lease_token') ~= ARGV[1] then
  return 0
end
release(KEYS[1], ARGV[3], KEYS[3])
redis.call('ZREM', KEYS[2], ARGV[3])
redis.call('HSET', KEYS[1], 'status', 'completed', 'finished_at', ARGV[2], 'updated_at', ARGV[2])
redis.call('ZADD', KEYS[4], ARGV[2], ARGV[3])
prune(KEYS[4], tonumber(ARGV[4]), ARGV[5])
return 1
`)

// KEYS: job, leased, groups, failed, waiting
// ARGV: token, now, id, dead, runAt, message, keep, prefix
var failScript = redis.NewScript(luaHelpers + `
if redis.call('HGET', KEYS[1], 'status') ~= 'active' or redis.call('HGET', KEYS[1], 'lease_token') ~= ARGV[1] then
  return 0
end
release(KEYS[1], ARGV[3], KEYS[3])
redis.call('ZREM', KEYS[2], ARGV[3])
if ARGV[4] == '1' then
  redis.call('HSET', KEYS[1], 'status', 'failed', 'last_error', ARGV[6], 'finished_at', ARGV[2], 'updated_at', ARGV[2])
  redis.call('ZADD', KEYS[4], ARGV[2], ARGV[3])
  prune(KEYS[4], tonumber(ARGV[7]), ARGV[8])
else
  redis.call('HSET', KEYS[1], 'status', 'waiting', 'last_error', ARGV[6], 'run_at', ARGV[5], 'updated_at', ARGV[2])
  redis.call('ZADD', KEYS[5], ARGV[5], ARGV[3])
end
return 1
`)

// KEYS: leased, groups, waiting, failed
// ARGV: now, keep, prefix
var reclaimScript = redis.NewScript(luaHelpers + `
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local count = 0
for _, id in ipairs(expired) do
  local jobKey = ARGV[3] .. 'job:' .. id
  redis.call('ZREM', KEYS[1], id)
  if redis.call('EXISTS', jobKey) == 1 then
    release(jobKey, id, KEYS[2])
    local attempts = tonumber(redis.call('HGET', jobKey, 'attempts_made') or '0')
    local maxAttempts = tonumber(redis.call('HGET', jobKey, 'max_attempts') or '0')
    if attempts >= maxAttempts then
      redis.call('HSET', jobKey, 'status', 'failed', 'last_error', 'lease expired after final attempt',
        'finished_at', ARGV[1], 'updated_at', ARGV[1])
      redis.call('ZADD', KEYS[4], ARGV[1], id)
    else
      redis.call('HSET', jobKey, 'status', 'waiting', 'last_error', 'lease expired',
        'run_at', ARGV[1], 'updated_at', ARGV[1])
      redis.call('ZADD', KEYS[3], ARGV[1], id)
    end
    count = count + 1
  end
end
prune(KEYS[4], tonumber(ARGV[2]), ARGV[3])
return count
`)

// KEYS: job, failed, waiting
// ARGV: id, now
var retryDeadScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'failed' then
  return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[1], 'finished_at')
redis.call('HSET', KEYS[1], 'status', 'waiting', 'attempts_made', 0, 'run_at', ARGV[2], 'updated_at', ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
return 1
`)

// KEYS: trigger, index
// ARGV: id, cron, jobType, payload, priority, maxAttempts, nextRunAt, now
var registerTriggerScript = redis.NewScript(`
local nextRun = ARGV[7]
local existing = redis.call('HGET', KEYS[1], 'cron')
if existing and existing == ARGV[2] then
  nextRun = redis.call('HGET', KEYS[1], 'next_run_at')
end
if not redis.call('HGET', KEYS[1], 'created_at') then
  redis.call('HSET', KEYS[1], 'created_at', ARGV[8])
end
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'cron', ARGV[2], 'job_type', ARGV[3], 'payload', ARGV[4],
  'priority', ARGV[5], 'max_attempts', ARGV[6], 'next_run_at', nextRun, 'updated_at', ARGV[8])
redis.call('ZADD', KEYS[2], nextRun, ARGV[1])
return 1
`)

// KEYS: trigger, index, job, waiting
// ARGV: id, expectedNext, nextRunAt, now, jobID, job hash field/value pairs...
var fireTriggerScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'next_run_at') ~= ARGV[2] then
  return 0
end
redis.call('HSET', KEYS[1], 'next_run_at', ARGV[3], 'last_fired_at', ARGV[4], 'updated_at', ARGV[4])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
for i = 6, #ARGV, 2 do
  redis.call('HSET', KEYS[3], ARGV[i], ARGV[i + 1])
end
redis.call('ZADD', KEYS[4], ARGV[4], ARGV[5])
return 1
`)
